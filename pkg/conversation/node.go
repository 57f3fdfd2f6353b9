package conversation

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TokenUsage carries the prompt/completion counts reported by a provider.
// It is only ever attached to assistant nodes.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" yaml:"completion_tokens"`
}

// MessageNode is a single message in the conversation tree. Nodes are
// connected through ParentID; the Children slice mirrors those links in
// insertion order, so later children represent later retries.
type MessageNode struct {
	ID       NodeID   `json:"id"`
	ParentID NodeID   `json:"parent_id"`
	BranchID BranchID `json:"branch_id"`

	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	TokenUsage *TokenUsage `json:"token_usage,omitempty"`

	// omitted from JSON to avoid circular references, rebuilt on load
	Children []*MessageNode `json:"-"`
}

type NodeOption func(*MessageNode)

func WithID(id NodeID) NodeOption {
	return func(node *MessageNode) {
		node.ID = id
	}
}

func WithTime(t time.Time) NodeOption {
	return func(node *MessageNode) {
		node.CreatedAt = t
	}
}

func WithTokenUsage(usage TokenUsage) NodeOption {
	return func(node *MessageNode) {
		node.TokenUsage = &usage
	}
}

func newMessageNode(role Role, content string, options ...NodeOption) *MessageNode {
	ret := &MessageNode{
		ID:        NewNodeID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

// View renders the node for terminal display.
func (mn *MessageNode) View() string {
	return fmt.Sprintf("[%s]: %s", mn.Role, strings.TrimRight(mn.Content, "\n"))
}

// Branch groups the nodes that share a divergence point. Retry allocates a
// fresh branch rooted at the retried node's parent; all appends below the
// new sibling inherit it.
type Branch struct {
	ID                BranchID `json:"id"`
	CreatedFromNodeID NodeID   `json:"created_from_node_id"`
}

// branchTip remembers the last active leaf seen on a branch, together with
// a recency sequence so navigation can resume where the user left off.
type branchTip struct {
	leaf NodeID
	seq  uint64
}
