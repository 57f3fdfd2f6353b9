package chat

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/arbor/pkg/conversation"
	"github.com/go-go-golems/arbor/pkg/provider"
	"github.com/go-go-golems/arbor/pkg/store"
)

// fakeProvider returns scripted replies and records the histories it saw.
type fakeProvider struct {
	replies   []string
	err       error
	histories [][]conversation.HistoryMessage
}

func (f *fakeProvider) Generate(_ context.Context, history []conversation.HistoryMessage, _ *provider.Params) (*provider.Reply, error) {
	f.histories = append(f.histories, history)
	if f.err != nil {
		return nil, f.err
	}
	text := f.replies[0]
	f.replies = f.replies[1:]
	return &provider.Reply{
		Text:  text,
		Usage: &conversation.TokenUsage{PromptTokens: len(history), CompletionTokens: 1},
	}, nil
}

// cancellingStreamProvider sends one chunk, cancels the context and ends
// the stream, simulating an interrupted generation.
type cancellingStreamProvider struct {
	cancel context.CancelFunc
}

func (c *cancellingStreamProvider) Generate(context.Context, []conversation.HistoryMessage, *provider.Params) (*provider.Reply, error) {
	return nil, errors.New("not used")
}

func (c *cancellingStreamProvider) GenerateStream(context.Context, []conversation.HistoryMessage, *provider.Params) (<-chan provider.Chunk, error) {
	ch := make(chan provider.Chunk, 1)
	ch <- provider.Chunk{Delta: "par", Completion: "par"}
	c.cancel()
	close(ch)
	return ch, nil
}

func TestSendMessageAppendsUserAndAssistant(t *testing.T) {
	p := &fakeProvider{replies: []string{"Hello!"}}
	s := NewSession(p, WithTree(conversation.NewConversationTree("You are helpful.")))

	assistantID, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, assistantID, s.Tree.ActiveLeafID)

	history := s.History()
	require.Len(t, history, 3)
	assert.Equal(t, conversation.RoleSystem, history[0].Role)
	assert.Equal(t, "Hi", history[1].Content)
	assert.Equal(t, "Hello!", history[2].Content)
	require.NotNil(t, history[2].TokenUsage)

	// the provider saw the transcript ending with the user message
	require.Len(t, p.histories, 1)
	seen := p.histories[0]
	assert.Equal(t, "Hi", seen[len(seen)-1].Content)
}

func TestSendMessageProviderErrorLeavesUserNode(t *testing.T) {
	p := &fakeProvider{err: errors.New("backend down")}
	s := NewSession(p, WithTree(conversation.NewConversationTree("")))

	_, err := s.SendMessage(context.Background(), "Hi")
	require.Error(t, err)

	// the user node stays as the active leaf, no assistant node was added
	path := s.Tree.GetActivePath()
	require.Len(t, path, 2)
	assert.Equal(t, conversation.RoleUser, path[1].Role)
}

func TestRetryRegeneratesAssistantSibling(t *testing.T) {
	p := &fakeProvider{replies: []string{"Hello!", "Howdy!"}}
	s := NewSession(p, WithTree(conversation.NewConversationTree("")))

	assistantID, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)

	siblingID, err := s.Retry(context.Background(), assistantID)
	require.NoError(t, err)
	assert.Equal(t, siblingID, s.Tree.ActiveLeafID)

	sibling, exists := s.Tree.GetMessageByID(siblingID)
	require.True(t, exists)
	assert.Equal(t, "Howdy!", sibling.Content)

	// original untouched, now one of two alternatives
	siblings, index, err := s.Tree.GetSiblings(assistantID)
	require.NoError(t, err)
	assert.Len(t, siblings, 2)
	assert.Equal(t, 0, index)

	// regeneration prompt ended at the user message, not the empty sibling
	seen := p.histories[1]
	assert.Equal(t, conversation.RoleUser, seen[len(seen)-1].Role)
}

func TestRetryUserNodeReturnsEmptySibling(t *testing.T) {
	p := &fakeProvider{replies: []string{"Hello!"}}
	s := NewSession(p, WithTree(conversation.NewConversationTree("")))

	assistantID, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)
	assistant, _ := s.Tree.GetMessageByID(assistantID)

	siblingID, err := s.Retry(context.Background(), assistant.ParentID)
	require.NoError(t, err)

	sibling, exists := s.Tree.GetMessageByID(siblingID)
	require.True(t, exists)
	assert.Equal(t, conversation.RoleUser, sibling.Role)
	assert.Equal(t, "", sibling.Content)
	require.Len(t, p.histories, 1, "no regeneration for user nodes")
}

func TestStreamingSendMessageFillsNode(t *testing.T) {
	e := &provider.EchoProvider{TimePerCharacter: 0}
	s := NewSession(e, WithTree(conversation.NewConversationTree("")))

	assistantID, err := s.SendMessage(context.Background(), "abc")
	require.NoError(t, err)

	node, exists := s.Tree.GetMessageByID(assistantID)
	require.True(t, exists)
	assert.Equal(t, "abc", node.Content)
}

func TestCancelledStreamKeepsPartialNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &cancellingStreamProvider{cancel: cancel}
	s := NewSession(p, WithTree(conversation.NewConversationTree("")))

	assistantID, err := s.SendMessage(ctx, "Hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	node, exists := s.Tree.GetMessageByID(assistantID)
	require.True(t, exists)
	assert.Equal(t, "par", node.Content, "partial content stays on the node")
	assert.Equal(t, assistantID, s.Tree.ActiveLeafID)
}

func TestSessionPersistsThroughStore(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	p := &fakeProvider{replies: []string{"Hello!"}}
	tree := conversation.NewConversationTree("sys", conversation.WithTitle("persisted"))
	s := NewSession(p, WithTree(tree), WithStore(fs))

	_, err = s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)

	loaded, err := fs.Load(tree.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", loaded.Title)
	path := loaded.GetActivePath()
	require.Len(t, path, 3)
	assert.Equal(t, "Hello!", path[2].Content)

	require.NoError(t, s.Delete())
	_, err = fs.Load(tree.ID)
	assert.True(t, conversation.IsNotFound(err))
}

func TestNavigateSiblingThroughSession(t *testing.T) {
	p := &fakeProvider{replies: []string{"Hello!", "Howdy!"}}
	s := NewSession(p, WithTree(conversation.NewConversationTree("")))

	assistantID, err := s.SendMessage(context.Background(), "Hi")
	require.NoError(t, err)
	siblingID, err := s.Retry(context.Background(), assistantID)
	require.NoError(t, err)

	require.NoError(t, s.NavigateSibling(siblingID, conversation.DirectionPrev))
	assert.Equal(t, assistantID, s.Tree.ActiveLeafID)

	err = s.NavigateSibling(assistantID, conversation.DirectionPrev)
	require.Error(t, err)
	assert.True(t, conversation.IsInvalidOperation(err))
}

func TestSessionParamsCopiedFromCaller(t *testing.T) {
	temperature := 0.5
	params := &provider.Params{Model: "echo", Temperature: &temperature, Stop: []string{"END"}}

	p := &fakeProvider{replies: []string{"Hello!"}}
	s := NewSession(p, WithTree(conversation.NewConversationTree("")), WithParams(params))

	// mutating the caller's struct must not reach the session
	params.Model = "changed"
	temperature = 0.9
	params.Stop[0] = "STOP"

	got := s.Params()
	require.NotNil(t, got)
	assert.Equal(t, "echo", got.Model)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.5, *got.Temperature)
	assert.Equal(t, []string{"END"}, got.Stop)
}
