// Package store persists conversation trees. A conversation is loaded
// whole, mutated in memory and written back atomically, so readers never
// observe a partially written document.
package store

import (
	"time"

	"github.com/go-go-golems/arbor/pkg/conversation"
)

// Metadata is the listing view of a stored conversation.
type Metadata struct {
	ConversationID conversation.ConversationID `json:"conversation_id"`
	Title          string                      `json:"title"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
	Provider       string                      `json:"provider,omitempty"`
	Model          string                      `json:"model,omitempty"`
}

// Store is the storage capability the conversation core depends on.
type Store interface {
	Load(id conversation.ConversationID) (*conversation.ConversationTree, error)
	Save(tree *conversation.ConversationTree) error
	List() ([]Metadata, error)
	Delete(id conversation.ConversationID) error
}
