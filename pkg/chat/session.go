// Package chat drives one conversation tree against a provider: appending
// user messages, generating replies, retrying onto new branches and
// persisting the tree after each mutation. A session is the single writer
// of its tree; separate sessions are fully independent.
package chat

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/arbor/pkg/conversation"
	"github.com/go-go-golems/arbor/pkg/events"
	"github.com/go-go-golems/arbor/pkg/provider"
	"github.com/go-go-golems/arbor/pkg/store"
)

type Session struct {
	Tree *conversation.ConversationTree

	provider  provider.Provider
	store     store.Store
	publisher *events.PublisherManager
	params    *provider.Params
}

type SessionOption func(*Session)

func WithTree(tree *conversation.ConversationTree) SessionOption {
	return func(s *Session) {
		s.Tree = tree
	}
}

func WithStore(st store.Store) SessionOption {
	return func(s *Session) {
		s.store = st
	}
}

func WithPublisher(pm *events.PublisherManager) SessionOption {
	return func(s *Session) {
		s.publisher = pm
	}
}

// WithParams sets the sampling settings used for every provider call. The
// session keeps its own copy, so mutating the caller's struct afterwards
// does not affect requests in flight.
func WithParams(params *provider.Params) SessionOption {
	return func(s *Session) {
		if params == nil {
			s.params = nil
			return
		}
		s.params = params.Clone()
	}
}

func NewSession(p provider.Provider, options ...SessionOption) *Session {
	ret := &Session{
		provider:  p,
		publisher: events.NewPublisherManager(),
	}

	for _, option := range options {
		option(ret)
	}

	if ret.Tree == nil {
		ret.Tree = conversation.NewConversationTree("")
	}

	return ret
}

// Publisher exposes the event fan-out so callers can subscribe sinks.
func (s *Session) Publisher() *events.PublisherManager {
	return s.publisher
}

// Params returns the session's sampling settings, nil when none were set.
func (s *Session) Params() *provider.Params {
	return s.params
}

// History returns the current linear transcript.
func (s *Session) History() []conversation.HistoryMessage {
	return conversation.Reconstruct(s.Tree)
}

// SendMessage appends a user node at the active leaf, asks the provider for
// a reply and appends it as an assistant node. The returned id is the
// assistant node. When the provider streams, the assistant node is created
// up front and filled chunk by chunk; a cancelled stream leaves the partial
// content on the node.
func (s *Session) SendMessage(ctx context.Context, text string) (conversation.NodeID, error) {
	userID, err := s.Tree.AppendMessage(s.Tree.ActiveLeafID, conversation.RoleUser, text)
	if err != nil {
		return conversation.NullNode, err
	}

	history := conversation.Reconstruct(s.Tree)

	if streaming, ok := s.provider.(provider.StreamingProvider); ok {
		assistantID, err := s.Tree.AppendMessage(userID, conversation.RoleAssistant, "")
		if err != nil {
			return conversation.NullNode, err
		}
		if err := s.streamInto(ctx, streaming, assistantID, history); err != nil {
			return assistantID, err
		}
		return assistantID, s.save()
	}

	meta := events.EventMetadata{ConversationID: s.Tree.ID, NodeID: userID}
	s.publisher.PublishBlind(events.NewStartEvent(meta))

	reply, err := s.provider.Generate(ctx, history, s.params)
	if err != nil {
		s.publisher.PublishBlind(events.NewErrorEvent(meta, err))
		return conversation.NullNode, errors.Wrap(err, "provider generation failed")
	}

	options := []conversation.NodeOption{}
	if reply.Usage != nil {
		options = append(options, conversation.WithTokenUsage(*reply.Usage))
	}
	assistantID, err := s.Tree.AppendMessage(userID, conversation.RoleAssistant, reply.Text, options...)
	if err != nil {
		return conversation.NullNode, err
	}

	meta.NodeID = assistantID
	s.publisher.PublishBlind(events.NewFinalEvent(meta, reply.Text, reply.Usage))

	return assistantID, s.save()
}

// Retry forks a new sibling branch at nodeID. Assistant nodes are
// regenerated from the history up to their parent; for other roles the
// empty sibling is returned for the caller to fill.
func (s *Session) Retry(ctx context.Context, nodeID conversation.NodeID) (conversation.NodeID, error) {
	node, exists := s.Tree.GetMessageByID(nodeID)
	if !exists {
		return conversation.NullNode, errors.Wrapf(conversation.ErrNotFound, "node %s", nodeID)
	}

	siblingID, err := s.Tree.Retry(nodeID)
	if err != nil {
		return conversation.NullNode, err
	}

	if node.Role != conversation.RoleAssistant {
		return siblingID, s.save()
	}

	// history up to the sibling's parent; the empty sibling is the active
	// leaf and must not be part of the prompt
	history := conversation.Reconstruct(s.Tree)
	history = history[:len(history)-1]

	if streaming, ok := s.provider.(provider.StreamingProvider); ok {
		if err := s.streamInto(ctx, streaming, siblingID, history); err != nil {
			return siblingID, err
		}
		return siblingID, s.save()
	}

	meta := events.EventMetadata{ConversationID: s.Tree.ID, NodeID: siblingID}
	s.publisher.PublishBlind(events.NewStartEvent(meta))

	reply, err := s.provider.Generate(ctx, history, s.params)
	if err != nil {
		s.publisher.PublishBlind(events.NewErrorEvent(meta, err))
		return siblingID, errors.Wrap(err, "provider generation failed")
	}

	if err := s.Tree.UpdateContent(siblingID, reply.Text); err != nil {
		return siblingID, err
	}
	if reply.Usage != nil {
		if err := s.Tree.SetTokenUsage(siblingID, *reply.Usage); err != nil {
			return siblingID, err
		}
	}

	s.publisher.PublishBlind(events.NewFinalEvent(meta, reply.Text, reply.Usage))

	return siblingID, s.save()
}

// streamInto consumes a chunk stream into the given node, publishing
// progress events. On cancellation the partial content accumulated so far
// stays on the node and the context error is returned.
func (s *Session) streamInto(ctx context.Context, p provider.StreamingProvider, nodeID conversation.NodeID, history []conversation.HistoryMessage) error {
	meta := events.EventMetadata{ConversationID: s.Tree.ID, NodeID: nodeID}
	s.publisher.PublishBlind(events.NewStartEvent(meta))

	chunks, err := p.GenerateStream(ctx, history, s.params)
	if err != nil {
		s.publisher.PublishBlind(events.NewErrorEvent(meta, err))
		return errors.Wrap(err, "provider stream failed")
	}

	completion := ""
	for chunk := range chunks {
		completion = chunk.Completion
		if err := s.Tree.UpdateContent(nodeID, completion); err != nil {
			return err
		}
		s.publisher.PublishBlind(events.NewPartialCompletionEvent(meta, chunk.Delta, completion))
	}

	if err := ctx.Err(); err != nil {
		s.publisher.PublishBlind(events.NewInterruptEvent(meta, completion))
		log.Debug().
			Str("node_id", nodeID.String()).
			Int("partial_length", len(completion)).
			Msg("stream interrupted, keeping partial content")
		// the partial node stays; the tree never rolls back
		if saveErr := s.save(); saveErr != nil {
			return saveErr
		}
		return err
	}

	s.publisher.PublishBlind(events.NewFinalEvent(meta, completion, nil))
	return nil
}

// NavigateSibling moves the active leaf across alternatives and persists
// the new position.
func (s *Session) NavigateSibling(nodeID conversation.NodeID, direction conversation.Direction) error {
	if err := s.Tree.NavigateSibling(nodeID, direction); err != nil {
		return err
	}
	return s.save()
}

// Delete removes the conversation from memory and storage.
func (s *Session) Delete() error {
	id := s.Tree.ID
	s.Tree.Delete()
	if s.store == nil {
		return nil
	}
	return s.store.Delete(id)
}

func (s *Session) save() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(s.Tree); err != nil {
		return errors.Wrap(err, "saving conversation")
	}
	return nil
}
