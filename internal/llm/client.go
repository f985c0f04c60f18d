// Package llm provides the vendor chat-completion client used by the
// specialist agents.
package llm

import "context"

// Role represents the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is one piece of message content: text, or an inline base64 image for
// the vision-capable calls.
type Part struct {
	Text      string
	MediaType string
	Data      string // base64 image payload
}

// Message represents a conversation message sent to the vendor.
type Message struct {
	Role  Role
	Parts []Part
}

// Text builds a plain text message.
func Text(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}

// Request is a single completion request.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// StopReason indicates why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
)

// Usage contains token usage information.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model's reply.
type Response struct {
	Content    string
	StopReason StopReason
	Usage      Usage
}

// Client is the vendor completion boundary. Implementations must respect the
// context deadline; the orchestrator bounds every call with the turn timeout.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Model() string
}
