package repositories

import "context"

// LanguageModel abstracts any chat/LLM provider
type LanguageModel interface {
	// Generate returns the complete reply for a request.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// GenerateStream returns the reply as it is produced. The channel is
	// closed after the last delta; a delta with Err set is always the last.
	GenerateStream(ctx context.Context, req GenerateRequest) (<-chan TextDelta, error)
}

// ReferenceNotesHeader introduces facts appended to a system prompt, one
// "- " bullet per line.
const ReferenceNotesHeader = "Reference notes:"

// GenerateRequest is a single model invocation.
type GenerateRequest struct {
	SystemPrompt string
	History      []ChatMessage
	Message      string
	// JSON asks the provider for a JSON object instead of prose.
	JSON bool
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TextDelta is one increment of a streamed reply.
type TextDelta struct {
	Text string
	Err  error
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)
