package conversation

// HistoryMessage is one entry of the reconstructed linear transcript, the
// shape consumed by providers and renderers.
type HistoryMessage struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
}

type reconstructConfig struct {
	includeSystem bool
}

type ReconstructOption func(*reconstructConfig)

// WithoutSystemNode drops the root system node from the reconstructed
// history, for providers that take the system instruction out of band.
func WithoutSystemNode() ReconstructOption {
	return func(cfg *reconstructConfig) {
		cfg.includeSystem = false
	}
}

// Reconstruct derives the linear transcript from the root to the active
// leaf. It is a pure function over the tree snapshot: no side effects, and
// the result is recomputed on every call.
func Reconstruct(ct *ConversationTree, options ...ReconstructOption) []HistoryMessage {
	cfg := &reconstructConfig{includeSystem: true}
	for _, option := range options {
		option(cfg)
	}

	path := ct.GetActivePath()
	ret := make([]HistoryMessage, 0, len(path))
	for _, node := range path {
		if node.Role == RoleSystem && !cfg.includeSystem {
			continue
		}
		ret = append(ret, HistoryMessage{
			Role:       node.Role,
			Content:    node.Content,
			TokenUsage: node.TokenUsage,
		})
	}
	return ret
}
