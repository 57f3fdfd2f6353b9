package provider

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/arbor/pkg/conversation"
)

// EchoProvider replays the last user message back, one rune at a time when
// streaming. It is deterministic and offline, which makes it the default
// engine for tests and for driving the CLI without credentials.
type EchoProvider struct {
	TimePerCharacter time.Duration
}

var _ StreamingProvider = (*EchoProvider)(nil)

func NewEchoProvider() *EchoProvider {
	return &EchoProvider{
		TimePerCharacter: 10 * time.Millisecond,
	}
}

func lastUserMessage(history []conversation.HistoryMessage) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleUser {
			return history[i].Content, nil
		}
	}
	return "", errors.New("no user message in history")
}

func historyRuneCount(history []conversation.HistoryMessage) int {
	count := 0
	for _, msg := range history {
		count += len([]rune(msg.Content))
	}
	return count
}

func (e *EchoProvider) Generate(ctx context.Context, history []conversation.HistoryMessage, _ *Params) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := lastUserMessage(history)
	if err != nil {
		return nil, err
	}

	return &Reply{
		Text: text,
		Usage: &conversation.TokenUsage{
			PromptTokens:     historyRuneCount(history),
			CompletionTokens: len([]rune(text)),
		},
	}, nil
}

func (e *EchoProvider) GenerateStream(ctx context.Context, history []conversation.HistoryMessage, _ *Params) (<-chan Chunk, error) {
	text, err := lastUserMessage(history)
	if err != nil {
		return nil, err
	}

	c := make(chan Chunk)

	go func() {
		defer close(c)

		completion := ""
		for _, r := range text {
			if e.TimePerCharacter > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.TimePerCharacter):
				}
			} else if ctx.Err() != nil {
				return
			}

			completion += string(r)
			select {
			case <-ctx.Done():
				return
			case c <- Chunk{Delta: string(r), Completion: completion}:
			}
		}
	}()

	return c, nil
}
