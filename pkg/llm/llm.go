// Package llm defines the minimal chat-completion surface the agent needs
// and an OpenAI-compatible implementation of it. Any endpoint speaking the
// OpenAI chat protocol works by overriding the base URL.
package llm

import "context"

// Message roles, mirroring the chat-completion wire roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation. Content is plain text.
type Message struct {
	Role    string
	Content string
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Usage reports token consumption for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a completed chat turn.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// StreamChunk is one delta of a streaming completion. Err is non-nil only
// on the terminating chunk of a failed stream.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Client is the completion interface the agent depends on. Implementations
// must be safe for concurrent use.
type Client interface {
	// Chat runs a blocking completion over the full message history.
	Chat(ctx context.Context, messages []Message) (*Response, error)
	// ChatStream runs a streaming completion. The returned channel is
	// closed after the final chunk; a chunk with Done set carries the
	// terminal state.
	ChatStream(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
}
