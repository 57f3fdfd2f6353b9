package conversation

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/arbor/pkg/helpers"
)

// Persisted conversation document. One JSON document holds the whole tree:
//
//	{
//	  "conversation_id": ...,
//	  "metadata": { "title": ..., "active_branch": ..., "active_leaf": ..., ... },
//	  "messages": { id -> { "parent_id": ..., "children": [...], ... } },
//	  "branches": { id -> { "created_from_node_id": ... } }
//	}
type persistedConversation struct {
	ConversationID ConversationID               `json:"conversation_id"`
	Metadata       persistedMetadata            `json:"metadata"`
	Messages       map[NodeID]persistedMessage  `json:"messages"`
	Branches       map[BranchID]persistedBranch `json:"branches"`
}

type persistedMetadata struct {
	Title             string                 `json:"title"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
	Provider          string                 `json:"provider,omitempty"`
	Model             string                 `json:"model,omitempty"`
	Params            map[string]interface{} `json:"params,omitempty"`
	ActiveBranch      BranchID               `json:"active_branch"`
	ActiveLeaf        NodeID                 `json:"active_leaf"`
	SystemInstruction string                 `json:"system_instruction"`
}

type persistedMessage struct {
	ParentID   NodeID      `json:"parent_id"`
	BranchID   BranchID    `json:"branch_id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
	Children   []NodeID    `json:"children"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
}

type persistedBranch struct {
	CreatedFromNodeID NodeID `json:"created_from_node_id"`
}

func (ct *ConversationTree) MarshalJSON() ([]byte, error) {
	doc := persistedConversation{
		ConversationID: ct.ID,
		Metadata: persistedMetadata{
			Title:             ct.Title,
			CreatedAt:         ct.CreatedAt,
			UpdatedAt:         ct.UpdatedAt,
			Provider:          ct.Provider,
			Model:             ct.Model,
			Params:            ct.Params,
			ActiveLeaf:        ct.ActiveLeafID,
			SystemInstruction: ct.SystemInstruction,
		},
		Messages: make(map[NodeID]persistedMessage, len(ct.Nodes)),
		Branches: make(map[BranchID]persistedBranch, len(ct.Branches)),
	}

	if leaf, exists := ct.Nodes[ct.ActiveLeafID]; exists {
		doc.Metadata.ActiveBranch = leaf.BranchID
	}

	for id, node := range ct.Nodes {
		children := make([]NodeID, 0, len(node.Children))
		for _, child := range node.Children {
			children = append(children, child.ID)
		}
		doc.Messages[id] = persistedMessage{
			ParentID:   node.ParentID,
			BranchID:   node.BranchID,
			Role:       node.Role,
			Content:    node.Content,
			CreatedAt:  node.CreatedAt,
			Children:   children,
			TokenUsage: node.TokenUsage,
		}
	}

	for id, branch := range ct.Branches {
		doc.Branches[id] = persistedBranch{CreatedFromNodeID: branch.CreatedFromNodeID}
	}

	return json.Marshal(doc)
}

func (ct *ConversationTree) UnmarshalJSON(data []byte) error {
	var doc persistedConversation
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	ct.ID = doc.ConversationID
	ct.Title = doc.Metadata.Title
	ct.CreatedAt = doc.Metadata.CreatedAt
	ct.UpdatedAt = doc.Metadata.UpdatedAt
	ct.Provider = doc.Metadata.Provider
	ct.Model = doc.Metadata.Model
	ct.Params = doc.Metadata.Params
	ct.SystemInstruction = doc.Metadata.SystemInstruction
	ct.ActiveLeafID = doc.Metadata.ActiveLeaf
	ct.RootID = NullNode
	ct.deleted = false

	ct.Nodes = make(map[NodeID]*MessageNode, len(doc.Messages))
	for id, msg := range doc.Messages {
		ct.Nodes[id] = &MessageNode{
			ID:         id,
			ParentID:   msg.ParentID,
			BranchID:   msg.BranchID,
			Role:       msg.Role,
			Content:    msg.Content,
			CreatedAt:  msg.CreatedAt,
			TokenUsage: msg.TokenUsage,
		}
		if msg.ParentID == NullNode {
			ct.RootID = id
		}
	}

	// relink children in their persisted order
	for id, msg := range doc.Messages {
		node := ct.Nodes[id]
		for _, childID := range msg.Children {
			child, exists := ct.Nodes[childID]
			if !exists {
				return errors.Wrapf(ErrPersistence, "child %s of node %s missing from document", childID, id)
			}
			node.Children = append(node.Children, child)
		}
	}

	ct.Branches = make(map[BranchID]*Branch, len(doc.Branches))
	for id, branch := range doc.Branches {
		ct.Branches[id] = &Branch{ID: id, CreatedFromNodeID: branch.CreatedFromNodeID}
	}

	if ct.RootID == NullNode {
		return errors.Wrap(ErrPersistence, "document has no root node")
	}
	if _, exists := ct.Nodes[ct.ActiveLeafID]; !exists {
		return errors.Wrapf(ErrPersistence, "active leaf %s missing from document", ct.ActiveLeafID)
	}

	ct.rebuildTips()

	return nil
}

// rebuildTips recomputes per-branch tips after a load. The terminal node of
// each branch becomes its tip; the persisted active leaf is recorded last
// so its branch wins on recency.
func (ct *ConversationTree) rebuildTips() {
	ct.tips = make(map[BranchID]branchTip)
	ct.tipSeq = 0

	for id, node := range ct.Nodes {
		terminal := true
		for _, child := range node.Children {
			if child.BranchID == node.BranchID {
				terminal = false
				break
			}
		}
		if terminal {
			ct.tipSeq++
			ct.tips[node.BranchID] = branchTip{leaf: id, seq: ct.tipSeq}
		}
	}

	if leaf, exists := ct.Nodes[ct.ActiveLeafID]; exists {
		ct.tipSeq++
		ct.tips[leaf.BranchID] = branchTip{leaf: ct.ActiveLeafID, seq: ct.tipSeq}
	}
}

// SaveToFile writes the tree as an indented JSON document. The document is
// written to a temp file and renamed into place, so a crash mid-write
// leaves the previous file intact.
func (ct *ConversationTree) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(ct, "", "  ")
	if err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}
	if err := helpers.AtomicWriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(ErrPersistence, err.Error())
	}
	return nil
}

// LoadFromFile reads a persisted conversation from a JSON or YAML file.
func LoadFromFile(filename string) (*ConversationTree, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "conversation file %s", filename)
		}
		return nil, errors.Wrap(ErrPersistence, err.Error())
	}

	if strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml") {
		// normalize through JSON so both formats share one decoder
		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(ErrPersistence, err.Error())
		}
		data, err = json.Marshal(raw)
		if err != nil {
			return nil, errors.Wrap(ErrPersistence, err.Error())
		}
	}

	ct := &ConversationTree{}
	if err := json.Unmarshal(data, ct); err != nil {
		return nil, errors.Wrap(ErrPersistence, err.Error())
	}
	return ct, nil
}
