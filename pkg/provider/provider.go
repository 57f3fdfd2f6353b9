// Package provider defines the collaborator interface the conversation core
// depends on for generating replies. Concrete vendor integrations live
// elsewhere; the core only consumes the returned text or chunk stream and
// never owns the provider's lifecycle.
package provider

import (
	"context"

	"github.com/go-go-golems/arbor/pkg/conversation"
	"github.com/huandu/go-clone"
)

// Params are the generation settings passed through to a provider.
type Params struct {
	Model             string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP              *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxResponseTokens *int     `json:"max_response_tokens,omitempty" yaml:"max_response_tokens,omitempty"`
	Stop              []string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

func (p *Params) Clone() *Params {
	return clone.Clone(p).(*Params)
}

// Reply is a completed generation.
type Reply struct {
	Text  string
	Usage *conversation.TokenUsage
}

// Chunk is one step of a streamed generation. Completion accumulates all
// deltas seen so far so consumers don't have to.
type Chunk struct {
	Delta      string
	Completion string
}

// Provider generates a reply for a reconstructed conversation history.
type Provider interface {
	Generate(ctx context.Context, history []conversation.HistoryMessage, params *Params) (*Reply, error)
}

// StreamingProvider additionally exposes a cancellable chunk stream. The
// channel is closed by the provider when the stream ends or the context is
// cancelled; whatever was received until then is the partial completion.
type StreamingProvider interface {
	Provider

	GenerateStream(ctx context.Context, history []conversation.HistoryMessage, params *Params) (<-chan Chunk, error)
}
