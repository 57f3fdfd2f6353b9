package conversation

// Navigator answers the "are there alternatives here" queries used by UI
// affordances. It is stateless and derived entirely from GetSiblings.
type Navigator struct {
	tree *ConversationTree
}

func NewNavigator(tree *ConversationTree) *Navigator {
	return &Navigator{tree: tree}
}

func (n *Navigator) HasSiblings(id NodeID) (bool, error) {
	count, err := n.SiblingCount(id)
	if err != nil {
		return false, err
	}
	return count > 1, nil
}

func (n *Navigator) SiblingCount(id NodeID) (int, error) {
	siblings, _, err := n.tree.GetSiblings(id)
	if err != nil {
		return 0, err
	}
	return len(siblings), nil
}
