package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildBranchedConversation(t *testing.T) *ConversationTree {
	t.Helper()

	ct := NewConversationTree("You are helpful.", WithTitle("branching test"))
	userID, err := ct.AppendMessage(ct.RootID, RoleUser, "Hi")
	require.NoError(t, err)
	assistantID, err := ct.AppendMessage(userID, RoleAssistant, "Hello!")
	require.NoError(t, err)
	require.NoError(t, ct.SetTokenUsage(assistantID, TokenUsage{PromptTokens: 7, CompletionTokens: 2}))

	siblingID, err := ct.Retry(assistantID)
	require.NoError(t, err)
	require.NoError(t, ct.UpdateContent(siblingID, "Hello there!"))
	_, err = ct.AppendMessage(siblingID, RoleUser, "Nice")
	require.NoError(t, err)

	return ct
}

func pathContents(ct *ConversationTree) []string {
	var ret []string
	for _, node := range ct.GetActivePath() {
		ret = append(ret, string(node.Role)+":"+node.Content)
	}
	return ret
}

func TestJSONRoundTripPreservesActivePath(t *testing.T) {
	ct := buildBranchedConversation(t)

	data, err := json.Marshal(ct)
	require.NoError(t, err)

	loaded := &ConversationTree{}
	require.NoError(t, json.Unmarshal(data, loaded))

	assert.Equal(t, ct.ID, loaded.ID)
	assert.Equal(t, ct.Title, loaded.Title)
	assert.Equal(t, ct.SystemInstruction, loaded.SystemInstruction)
	assert.Equal(t, ct.ActiveLeafID, loaded.ActiveLeafID)
	assert.Equal(t, ct.RootID, loaded.RootID)
	assert.Equal(t, pathContents(ct), pathContents(loaded))
	assert.Len(t, loaded.Branches, len(ct.Branches))
}

func TestRoundTripPreservesSiblingOrderAndNavigation(t *testing.T) {
	ct := buildBranchedConversation(t)

	data, err := json.Marshal(ct)
	require.NoError(t, err)

	loaded := &ConversationTree{}
	require.NoError(t, json.Unmarshal(data, loaded))

	// the loaded tree supports the same navigation as the original
	path := loaded.GetActivePath()
	require.NotEmpty(t, path)
	leaf := path[len(path)-1]
	assert.Equal(t, "Nice", leaf.Content)

	// find the retried assistant sibling pair
	sibling := path[len(path)-2]
	siblings, index, err := loaded.GetSiblings(sibling.ID)
	require.NoError(t, err)
	require.Len(t, siblings, 2)
	assert.Equal(t, 1, index)

	require.NoError(t, loaded.NavigateSibling(sibling.ID, DirectionPrev))
	original, exists := loaded.GetMessageByID(loaded.ActiveLeafID)
	require.True(t, exists)
	assert.Equal(t, "Hello!", original.Content)
	require.NotNil(t, original.TokenUsage)
	assert.Equal(t, 7, original.TokenUsage.PromptTokens)
}

func TestRoundTripRejectsDanglingActiveLeaf(t *testing.T) {
	ct := NewConversationTree("sys")
	data, err := json.Marshal(ct)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	meta := doc["metadata"].(map[string]interface{})
	meta["active_leaf"] = NewNodeID().String()
	data, err = json.Marshal(doc)
	require.NoError(t, err)

	loaded := &ConversationTree{}
	err = json.Unmarshal(data, loaded)
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
}

func TestSaveAndLoadFile(t *testing.T) {
	ct := buildBranchedConversation(t)

	dir := t.TempDir()
	filename := filepath.Join(dir, "conversation.json")
	require.NoError(t, ct.SaveToFile(filename))

	loaded, err := LoadFromFile(filename)
	require.NoError(t, err)
	assert.Equal(t, pathContents(ct), pathContents(loaded))
}

func TestLoadFromYAMLFile(t *testing.T) {
	ct := buildBranchedConversation(t)

	data, err := json.Marshal(ct)
	require.NoError(t, err)

	// JSON is valid YAML, so writing the document under a .yaml suffix
	// exercises the YAML decode path
	dir := t.TempDir()
	filename := filepath.Join(dir, "conversation.yaml")
	require.NoError(t, os.WriteFile(filename, data, 0644))

	loaded, err := LoadFromFile(filename)
	require.NoError(t, err)
	assert.Equal(t, pathContents(ct), pathContents(loaded))
}

func TestLoadFromMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSaveToFileReplacesAtomically(t *testing.T) {
	ct := buildBranchedConversation(t)

	dir := t.TempDir()
	filename := filepath.Join(dir, "conversation.json")
	require.NoError(t, ct.SaveToFile(filename))

	_, err := ct.AppendMessage(ct.ActiveLeafID, RoleUser, "And another thing")
	require.NoError(t, err)
	require.NoError(t, ct.SaveToFile(filename))

	// the overwrite leaves a single complete document, no temp files
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "conversation.json", entries[0].Name())

	loaded, err := LoadFromFile(filename)
	require.NoError(t, err)
	assert.Equal(t, pathContents(ct), pathContents(loaded))
}

func TestMetadataRoundTrip(t *testing.T) {
	id := NewConversationID()
	ct := NewConversationTree("sys",
		WithConversationID(id),
		WithTitle("tuned"),
		WithProvider("openai", "gpt-4o"),
		WithParams(map[string]interface{}{"temperature": 0.2}),
	)

	data, err := json.Marshal(ct)
	require.NoError(t, err)

	loaded := &ConversationTree{}
	require.NoError(t, json.Unmarshal(data, loaded))

	assert.Equal(t, id, loaded.ID)
	assert.Equal(t, "tuned", loaded.Title)
	assert.Equal(t, "openai", loaded.Provider)
	assert.Equal(t, "gpt-4o", loaded.Model)
	assert.Equal(t, 0.2, loaded.Params["temperature"])
}
