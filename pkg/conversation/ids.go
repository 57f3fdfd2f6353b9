package conversation

import (
	"github.com/google/uuid"
)

// NodeID identifies a single message node within a conversation tree.
type NodeID uuid.UUID

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *NodeID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = NodeID(u)
	return nil
}

// BranchID identifies a branch, the maximal run of nodes sharing a
// divergence point.
type BranchID uuid.UUID

func NewBranchID() BranchID {
	return BranchID(uuid.New())
}

func (id BranchID) String() string {
	return uuid.UUID(id).String()
}

func (id BranchID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *BranchID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = BranchID(u)
	return nil
}

// ConversationID identifies a whole conversation tree.
type ConversationID uuid.UUID

func NewConversationID() ConversationID {
	return ConversationID(uuid.New())
}

func (id ConversationID) String() string {
	return uuid.UUID(id).String()
}

func (id ConversationID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ConversationID) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*id = ConversationID(u)
	return nil
}

func ParseConversationID(s string) (ConversationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NullConversation, err
	}
	return ConversationID(u), nil
}

var (
	NullNode         = NodeID(uuid.Nil)
	NullConversation = ConversationID(uuid.Nil)
)
