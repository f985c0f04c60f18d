package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/solcredito/solcredito/internal/identity"
	"github.com/solcredito/solcredito/internal/orchestrator"
)

// WSHandler serves live chat over a websocket. Each inbound frame runs one
// conversation turn through the same orchestrator as POST /api/chat, and the
// reply frame carries the same response envelope.
type WSHandler struct {
	orch   *orchestrator.Orchestrator
	model  string
	logger *slog.Logger
}

// NewWSHandler creates a websocket chat handler.
func NewWSHandler(orch *orchestrator.Orchestrator, model string, logger *slog.Logger) *WSHandler {
	return &WSHandler{orch: orch, model: model, logger: logger}
}

// wsInbound is one chat frame from the client.
type wsInbound struct {
	Content   json.RawMessage `json:"content"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id"`
}

// ServeHTTP upgrades the connection and runs turns until the client closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("WebSocket accept failed", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("WebSocket close", "error", closeErr)
		}
	}()

	// Cookie identity resolved at upgrade time applies to every frame.
	ctxUserID := identity.UserIDFromContext(r.Context())
	ctxSessionID := identity.SessionIDFromContext(r.Context())

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.logger.Warn("WebSocket read failed", "error", err)
			}
			return
		}

		var frame wsInbound
		if err := json.Unmarshal(data, &frame); err != nil {
			h.writeError(ctx, ws, "invalid chat frame")
			continue
		}

		inbound, err := decodeMessage(chatMessage{Role: "user", Content: frame.Content})
		if err != nil {
			h.writeError(ctx, ws, err.Error())
			continue
		}

		sessionID := frame.SessionID
		if sessionID == "" {
			sessionID = ctxSessionID
		}
		userID := frame.UserID
		if userID == "" {
			userID = ctxUserID
		}
		if userID == "" {
			userID = "demo-user"
		}

		result, err := h.orch.Turn(ctx, sessionID, userID, inbound)
		if err != nil {
			h.logger.Error("WebSocket turn failed", "session_id", sessionID, "error", err)
			h.writeError(ctx, ws, "failed to process message")
			continue
		}

		req := chatRequest{Messages: []chatMessage{{Role: "user", Content: frame.Content}}}
		if err := h.writeJSON(ctx, ws, envelope(h.model, sessionID, req, result)); err != nil {
			h.logger.Warn("WebSocket write failed", "error", err)
			return
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, ws *websocket.Conn, message string) {
	if err := h.writeJSON(ctx, ws, map[string]string{"error": message}); err != nil {
		h.logger.Warn("WebSocket error write failed", "error", err)
	}
}

func (h *WSHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
