// Package api provides HTTP handlers for the Solcredito assistant API.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solcredito/solcredito/internal/domain"
	"github.com/solcredito/solcredito/internal/identity"
	"github.com/solcredito/solcredito/internal/orchestrator"
)

// ChatHandler serves the conversational loan endpoints over the turn
// orchestrator.
type ChatHandler struct {
	orch   *orchestrator.Orchestrator
	model  string
	logger *slog.Logger
}

// NewChatHandler creates a chat handler. model is echoed back in the response
// envelope so clients know which completion model served the turn.
func NewChatHandler(orch *orchestrator.Orchestrator, model string, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{orch: orch, model: model, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// chatMessage carries one inbound message. Content is either a plain string
// or a list of multimodal blocks in the vendor wire shape.
type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatRequest struct {
	Messages  []chatMessage `json:"messages"`
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id"`
}

// contentBlock is one block of the response envelope.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usagePayload struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

// chatResponse mirrors the vendor message envelope so existing frontends can
// consume the assistant reply without translation.
type chatResponse struct {
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	StopReason string         `json:"stop_reason"`
	Usage      usagePayload   `json:"usage"`
}

// Chat handles POST /api/chat: runs one conversation turn for the latest user
// message in the request and renders the assistant reply.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		Error(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	inbound, err := latestUserMessage(req.Messages)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = identity.SessionIDFromContext(r.Context())
	}
	userID := req.UserID
	if userID == "" {
		userID = identity.UserIDFromContext(r.Context())
	}
	if userID == "" {
		userID = "demo-user"
	}

	result, err := h.orch.Turn(r.Context(), sessionID, userID, inbound)
	if err != nil {
		h.logger.Error("Chat turn failed", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	JSON(w, http.StatusOK, envelope(h.model, sessionID, req, result))
}

func envelope(model, sessionID string, req chatRequest, result *orchestrator.TurnResult) chatResponse {
	text := result.Reply.Text()

	// Token accounting is approximated from payload sizes; real usage is
	// tracked per model call in the metrics package.
	inputSize := 0
	for _, m := range req.Messages {
		inputSize += len(m.Content)
	}

	return chatResponse{
		Content:    []contentBlock{{Type: "text", Text: text}},
		Model:      model,
		ID:         fmt.Sprintf("msg_%s_%d", sessionID, time.Now().Unix()),
		Type:       "message",
		Role:       "assistant",
		StopReason: "end_turn",
		Usage: usagePayload{
			InputTokens:  inputSize / 4,
			OutputTokens: len(text) / 4,
		},
	}
}

// RegisterRoutes registers the chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.Chat)
}

// latestUserMessage extracts the most recent user message; earlier history
// lives in the persisted conversation state, not the request.
func latestUserMessage(msgs []chatMessage) (domain.Message, error) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != string(domain.RoleUser) {
			continue
		}
		return decodeMessage(msgs[i])
	}
	return domain.Message{}, fmt.Errorf("messages must contain a user message")
}

// incomingPart is a multimodal content block in the vendor wire shape.
type incomingPart struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Source *struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	} `json:"source"`
}

func decodeMessage(m chatMessage) (domain.Message, error) {
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		if text == "" {
			return domain.Message{}, fmt.Errorf("message content must not be empty")
		}
		return domain.TextMessage(domain.RoleUser, text), nil
	}

	var blocks []incomingPart
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return domain.Message{}, fmt.Errorf("message content must be a string or a block list")
	}
	if len(blocks) == 0 {
		return domain.Message{}, fmt.Errorf("message content must not be empty")
	}

	parts := make([]domain.ContentPart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, domain.ContentPart{Type: "text", Text: b.Text})
		case "image":
			if b.Source == nil || b.Source.Data == "" {
				return domain.Message{}, fmt.Errorf("image block missing base64 source")
			}
			parts = append(parts, domain.ContentPart{
				Type:      "image",
				MediaType: b.Source.MediaType,
				Data:      b.Source.Data,
			})
		default:
			return domain.Message{}, fmt.Errorf("unsupported content block type %q", b.Type)
		}
	}
	return domain.Message{Role: domain.RoleUser, Parts: parts}, nil
}
