// Package domain contains core domain types for the Solcredito assistant.
package domain

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentPart is one piece of a multimodal message: either text or an
// inline base64 image.
type ContentPart struct {
	Type      string `json:"type"` // "text" or "image"
	Text      string `json:"text,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"` // base64 payload, no data: prefix
}

// Message is a single conversation entry. Content holds plain text; Parts is
// set instead when the client sent multimodal content (photo uploads).
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns the textual content of the message, concatenating text parts
// when the message is multimodal.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// Images returns the inline images carried by the message.
func (m Message) Images() []ContentPart {
	var imgs []ContentPart
	for _, p := range m.Parts {
		if p.Type == "image" && p.Data != "" {
			imgs = append(imgs, p)
		}
	}
	return imgs
}

// TextMessage builds a plain text message.
func TextMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}
