// Package events publishes conversation lifecycle events over watermill
// publishers, so UIs and sinks can follow streamed generations without
// coupling to the session that drives them.
package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/arbor/pkg/conversation"
)

type EventType string

const (
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"
)

// EventMetadata ties an event to the conversation and node it concerns.
type EventMetadata struct {
	ConversationID conversation.ConversationID `json:"conversation_id"`
	NodeID         conversation.NodeID         `json:"node_id"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("conversation_id", em.ConversationID.String())
	e.Str("node_id", em.NodeID.String())
}

type Event struct {
	Type     EventType     `json:"type"`
	Metadata EventMetadata `json:"meta"`
}

func (e Event) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type))
	ev.Object("meta", e.Metadata)
}

// EventStart announces that a generation began for the given node.
type EventStart struct {
	Event
}

func NewStartEvent(meta EventMetadata) *EventStart {
	return &EventStart{Event: Event{Type: EventTypeStart, Metadata: meta}}
}

// EventPartialCompletion carries one streamed chunk. Completion accumulates
// all deltas seen so far.
type EventPartialCompletion struct {
	Event

	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(meta EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		Event:      Event{Type: EventTypePartialCompletion, Metadata: meta},
		Delta:      delta,
		Completion: completion,
	}
}

// EventFinal carries the completed reply text and its token usage.
type EventFinal struct {
	Event

	Text       string                   `json:"text"`
	TokenUsage *conversation.TokenUsage `json:"token_usage,omitempty"`
}

func NewFinalEvent(meta EventMetadata, text string, usage *conversation.TokenUsage) *EventFinal {
	return &EventFinal{
		Event:      Event{Type: EventTypeFinal, Metadata: meta},
		Text:       text,
		TokenUsage: usage,
	}
}

// EventError reports a failed generation.
type EventError struct {
	Event

	ErrorString string `json:"error"`
}

func NewErrorEvent(meta EventMetadata, err error) *EventError {
	return &EventError{
		Event:       Event{Type: EventTypeError, Metadata: meta},
		ErrorString: err.Error(),
	}
}

// EventInterrupt reports a cancelled generation together with the partial
// text accumulated so far.
type EventInterrupt struct {
	Event

	Text string `json:"text"`
}

func NewInterruptEvent(meta EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		Event: Event{Type: EventTypeInterrupt, Metadata: meta},
		Text:  text,
	}
}

// NewEventFromJSON decodes a serialized event into its concrete type.
func NewEventFromJSON(b []byte) (interface{}, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}

	switch e.Type {
	case EventTypeStart:
		ret := &EventStart{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	case EventTypePartialCompletion:
		ret := &EventPartialCompletion{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	case EventTypeFinal:
		ret := &EventFinal{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	case EventTypeError:
		ret := &EventError{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	case EventTypeInterrupt:
		ret := &EventInterrupt{}
		if err := json.Unmarshal(b, ret); err != nil {
			return nil, err
		}
		return ret, nil
	default:
		return nil, errors.Errorf("unknown event type %q", e.Type)
	}
}
