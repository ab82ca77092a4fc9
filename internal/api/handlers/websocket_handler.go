package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/middleware/validation"
	"github.com/scripture-rag/backend/pkg/logger"
)

type wsRequest struct {
	Type    string `json:"type"`
	VerseID string `json:"verse_id"`
	Limit   int    `json:"limit"`
}

type WebSocketHandler struct {
	related *RelatedHandler
}

func NewWebSocketHandler(related *RelatedHandler) *WebSocketHandler {
	return &WebSocketHandler{related: related}
}

// HandleConnection answers {"type":"related"} messages until the client
// disconnects. Other message types get an error reply.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsRequest
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if err := h.handle(context.Background(), c, msg); err != nil {
			logger.Error("Failed to write WebSocket response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) handle(ctx context.Context, c *websocket.Conn, msg wsRequest) error {
	switch msg.Type {
	case "ping":
		return c.WriteJSON(map[string]interface{}{"type": "pong"})
	case "related":
	default:
		return h.sendError(c, msg.VerseID, "Unsupported message type")
	}

	verseID, err := validation.VerseID(msg.VerseID)
	if err != nil {
		return h.sendError(c, msg.VerseID, "Invalid verse id")
	}
	limit, err := validation.CheckLimit(msg.Limit, h.related.maxLimit)
	if err != nil {
		return h.sendError(c, verseID, err.Error())
	}

	resp, err := h.related.lookup(ctx, "websocket", verseID, limit)
	if err != nil {
		_, text := errorStatus(err)
		return h.sendError(c, verseID, text)
	}

	return c.WriteJSON(map[string]interface{}{
		"type": "related",
		"data": resp,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, verseID, errorMsg string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":     "error",
		"verse_id": verseID,
		"error":    errorMsg,
	})
}
