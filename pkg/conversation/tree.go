package conversation

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ConversationTree owns all message nodes and branches of one conversation.
//
// The tree consists of nodes connected by parent-child links through the
// ParentID field of each message. The root node is the system node created
// on construction; every other node is created through AppendMessage or
// Retry and is never re-parented, so the path from the root to any node is
// a simple path.
//
// ActiveLeafID points at the node whose root-to-node path is the currently
// rendered conversation. Appends advance it, Retry moves it onto the fresh
// branch, and NavigateSibling moves it across alternatives.
//
// A tree is driven by at most one writer at a time; independent
// conversations can be processed concurrently without shared state.
type ConversationTree struct {
	ID    ConversationID
	Title string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Provider, Model and Params are opaque metadata persisted alongside
	// the tree; the core never interprets them.
	Provider string
	Model    string
	Params   map[string]interface{}

	SystemInstruction string

	Nodes    map[NodeID]*MessageNode
	Branches map[BranchID]*Branch

	RootID       NodeID
	ActiveLeafID NodeID

	tips    map[BranchID]branchTip
	tipSeq  uint64
	deleted bool
}

type TreeOption func(*ConversationTree)

func WithConversationID(id ConversationID) TreeOption {
	return func(ct *ConversationTree) {
		ct.ID = id
	}
}

func WithTitle(title string) TreeOption {
	return func(ct *ConversationTree) {
		ct.Title = title
	}
}

func WithProvider(provider string, model string) TreeOption {
	return func(ct *ConversationTree) {
		ct.Provider = provider
		ct.Model = model
	}
}

func WithParams(params map[string]interface{}) TreeOption {
	return func(ct *ConversationTree) {
		ct.Params = params
	}
}

// NewConversationTree initializes a tree with a single system root node on
// a fresh branch and sets it as the active leaf.
func NewConversationTree(systemInstruction string, options ...TreeOption) *ConversationTree {
	now := time.Now()
	ct := &ConversationTree{
		ID:                NewConversationID(),
		CreatedAt:         now,
		UpdatedAt:         now,
		SystemInstruction: systemInstruction,
		Nodes:             make(map[NodeID]*MessageNode),
		Branches:          make(map[BranchID]*Branch),
		tips:              make(map[BranchID]branchTip),
	}

	for _, option := range options {
		option(ct)
	}

	branch := &Branch{ID: NewBranchID(), CreatedFromNodeID: NullNode}
	ct.Branches[branch.ID] = branch

	root := newMessageNode(RoleSystem, systemInstruction)
	root.BranchID = branch.ID
	ct.Nodes[root.ID] = root
	ct.RootID = root.ID
	ct.setActiveLeaf(root.ID)

	return ct
}

func (ct *ConversationTree) touch() {
	ct.UpdatedAt = time.Now()
}

// setActiveLeaf moves the active leaf and records the leaf as the most
// recent tip of its branch.
func (ct *ConversationTree) setActiveLeaf(id NodeID) {
	ct.ActiveLeafID = id
	node := ct.Nodes[id]
	ct.tipSeq++
	ct.tips[node.BranchID] = branchTip{leaf: id, seq: ct.tipSeq}
}

// AppendMessage creates a new node as the last child of parentID. The node
// inherits the parent's branch and becomes the active leaf.
func (ct *ConversationTree) AppendMessage(parentID NodeID, role Role, content string, options ...NodeOption) (NodeID, error) {
	if ct.deleted {
		return NullNode, errors.Wrap(ErrInvalidOperation, "conversation deleted")
	}

	parent, exists := ct.Nodes[parentID]
	if !exists {
		return NullNode, errors.Wrapf(ErrNotFound, "parent node %s", parentID)
	}

	node := newMessageNode(role, content, options...)
	if _, exists := ct.Nodes[node.ID]; exists {
		return NullNode, errors.Wrapf(ErrInvalidOperation, "node %s already exists", node.ID)
	}
	node.ParentID = parentID
	node.BranchID = parent.BranchID

	ct.Nodes[node.ID] = node
	parent.Children = append(parent.Children, node)
	ct.setActiveLeaf(node.ID)
	ct.touch()

	log.Trace().
		Str("conversation_id", ct.ID.String()).
		Str("node_id", node.ID.String()).
		Str("parent_id", parentID.String()).
		Str("role", string(role)).
		Int("tree_node_count", len(ct.Nodes)).
		Msg("appended message")

	return node.ID, nil
}

// Retry creates a new sibling of nodeID under the same parent, with the
// same role and empty content, on a fresh branch diverging at the parent.
// The original node and its subtree are preserved; the new sibling becomes
// the active leaf. Callers fill the sibling through UpdateContent once the
// regenerated reply is available.
func (ct *ConversationTree) Retry(nodeID NodeID) (NodeID, error) {
	if ct.deleted {
		return NullNode, errors.Wrap(ErrInvalidOperation, "conversation deleted")
	}

	node, exists := ct.Nodes[nodeID]
	if !exists {
		return NullNode, errors.Wrapf(ErrNotFound, "node %s", nodeID)
	}
	if nodeID == ct.RootID {
		return NullNode, errors.Wrap(ErrInvalidOperation, "cannot retry the root node")
	}

	parent, exists := ct.Nodes[node.ParentID]
	if !exists {
		return NullNode, errors.Wrapf(ErrNotFound, "parent node %s", node.ParentID)
	}

	branch := &Branch{ID: NewBranchID(), CreatedFromNodeID: parent.ID}
	sibling := newMessageNode(node.Role, "")
	sibling.ParentID = parent.ID
	sibling.BranchID = branch.ID

	ct.Branches[branch.ID] = branch
	ct.Nodes[sibling.ID] = sibling
	parent.Children = append(parent.Children, sibling)
	ct.setActiveLeaf(sibling.ID)
	ct.touch()

	log.Trace().
		Str("conversation_id", ct.ID.String()).
		Str("retried_node_id", nodeID.String()).
		Str("sibling_id", sibling.ID.String()).
		Str("branch_id", branch.ID.String()).
		Msg("retried message onto new branch")

	return sibling.ID, nil
}

// UpdateContent replaces the content of an existing node. Used to fill a
// retry sibling or a streamed assistant node as chunks arrive.
func (ct *ConversationTree) UpdateContent(nodeID NodeID, content string) error {
	if ct.deleted {
		return errors.Wrap(ErrInvalidOperation, "conversation deleted")
	}
	node, exists := ct.Nodes[nodeID]
	if !exists {
		return errors.Wrapf(ErrNotFound, "node %s", nodeID)
	}
	node.Content = content
	ct.touch()
	return nil
}

// SetTokenUsage attaches provider token counts to a node.
func (ct *ConversationTree) SetTokenUsage(nodeID NodeID, usage TokenUsage) error {
	if ct.deleted {
		return errors.Wrap(ErrInvalidOperation, "conversation deleted")
	}
	node, exists := ct.Nodes[nodeID]
	if !exists {
		return errors.Wrapf(ErrNotFound, "node %s", nodeID)
	}
	node.TokenUsage = &usage
	ct.touch()
	return nil
}

// GetActivePath walks parent links from the active leaf to the root and
// returns the path in root-first order. The path is recomputed on every
// call since the tree can mutate between calls.
func (ct *ConversationTree) GetActivePath() []*MessageNode {
	var path []*MessageNode
	id := ct.ActiveLeafID
	for id != NullNode {
		node, exists := ct.Nodes[id]
		if !exists {
			break
		}
		path = append([]*MessageNode{node}, path...)
		id = node.ParentID
	}
	return path
}

// GetSiblings returns the ordered ids of all nodes sharing nodeID's parent,
// nodeID included, together with nodeID's index in that order. The root has
// no siblings and returns itself at index 0.
func (ct *ConversationTree) GetSiblings(nodeID NodeID) ([]NodeID, int, error) {
	node, exists := ct.Nodes[nodeID]
	if !exists {
		return nil, 0, errors.Wrapf(ErrNotFound, "node %s", nodeID)
	}

	if node.ParentID == NullNode {
		return []NodeID{nodeID}, 0, nil
	}

	parent, exists := ct.Nodes[node.ParentID]
	if !exists {
		return nil, 0, errors.Wrapf(ErrNotFound, "parent node %s", node.ParentID)
	}

	siblings := make([]NodeID, 0, len(parent.Children))
	index := -1
	for i, child := range parent.Children {
		siblings = append(siblings, child.ID)
		if child.ID == nodeID {
			index = i
		}
	}
	if index < 0 {
		return nil, 0, errors.Wrapf(ErrNotFound, "node %s not among children of %s", nodeID, parent.ID)
	}

	return siblings, index, nil
}

type Direction string

const (
	DirectionPrev Direction = "prev"
	DirectionNext Direction = "next"
	DirectionNone Direction = "none"
)

// NavigateSibling moves the active leaf across sibling alternatives of
// nodeID. Navigation saturates: asking for prev on the first sibling or
// next on the last fails with ErrInvalidOperation instead of wrapping
// around. On success the active leaf becomes the deepest recorded
// descendant of the chosen sibling, resuming the path that was last active
// on that branch.
func (ct *ConversationTree) NavigateSibling(nodeID NodeID, direction Direction) error {
	if ct.deleted {
		return errors.Wrap(ErrInvalidOperation, "conversation deleted")
	}

	siblings, index, err := ct.GetSiblings(nodeID)
	if err != nil {
		return err
	}

	switch direction {
	case DirectionPrev:
		if index == 0 {
			return errors.Wrapf(ErrInvalidOperation, "node %s is already the first sibling", nodeID)
		}
		index--
	case DirectionNext:
		if index == len(siblings)-1 {
			return errors.Wrapf(ErrInvalidOperation, "node %s is already the last sibling", nodeID)
		}
		index++
	case DirectionNone:
		// reselect the current sibling's branch tip
	default:
		return errors.Wrapf(ErrInvalidOperation, "unknown direction %q", direction)
	}

	target := ct.deepestDescendant(siblings[index])
	ct.setActiveLeaf(target)

	log.Trace().
		Str("conversation_id", ct.ID.String()).
		Str("node_id", nodeID.String()).
		Str("direction", string(direction)).
		Str("active_leaf_id", target.String()).
		Msg("navigated sibling")

	return nil
}

// deepestDescendant picks the most recently active branch tip at or below
// id. When no tip was recorded below id, it falls back to walking first
// children down to a leaf.
func (ct *ConversationTree) deepestDescendant(id NodeID) NodeID {
	best := NullNode
	var bestSeq uint64
	for _, tip := range ct.tips {
		if !ct.isAncestorOrSelf(id, tip.leaf) {
			continue
		}
		if best == NullNode || tip.seq > bestSeq {
			best = tip.leaf
			bestSeq = tip.seq
		}
	}
	if best != NullNode {
		return best
	}

	node := ct.Nodes[id]
	for len(node.Children) > 0 {
		node = node.Children[0]
	}
	return node.ID
}

func (ct *ConversationTree) isAncestorOrSelf(ancestor NodeID, id NodeID) bool {
	for id != NullNode {
		if id == ancestor {
			return true
		}
		node, exists := ct.Nodes[id]
		if !exists {
			return false
		}
		id = node.ParentID
	}
	return false
}

// GetMessageByID looks up a single node.
func (ct *ConversationTree) GetMessageByID(id NodeID) (*MessageNode, bool) {
	ret, exists := ct.Nodes[id]
	return ret, exists
}

// FindChildren returns the ids of all children of a node, in insertion
// order.
func (ct *ConversationTree) FindChildren(id NodeID) []NodeID {
	node, exists := ct.Nodes[id]
	if !exists {
		return nil
	}

	var children []NodeID
	for _, child := range node.Children {
		children = append(children, child.ID)
	}
	return children
}

// Deleted reports whether the whole conversation was removed.
func (ct *ConversationTree) Deleted() bool {
	return ct.deleted
}

// Delete removes all nodes and branches. The tree is terminal afterwards;
// every further operation fails with ErrInvalidOperation.
func (ct *ConversationTree) Delete() {
	ct.Nodes = make(map[NodeID]*MessageNode)
	ct.Branches = make(map[BranchID]*Branch)
	ct.tips = make(map[BranchID]branchTip)
	ct.RootID = NullNode
	ct.ActiveLeafID = NullNode
	ct.deleted = true
	ct.touch()

	log.Debug().
		Str("conversation_id", ct.ID.String()).
		Msg("deleted conversation")
}
