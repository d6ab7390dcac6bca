package llm

import "context"

// Role identifies a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a completion conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`

	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool `json:"-"`
}

// Client is the minimal completion surface the engine consumes. Planning,
// refinement and discovery all speak through this interface, so tests can
// substitute a scripted implementation.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (string, error)
}
