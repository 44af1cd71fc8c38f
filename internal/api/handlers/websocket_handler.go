package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/assistant"
	"github.com/healthsphere/grounded-reports/internal/query"
	"github.com/healthsphere/grounded-reports/pkg/logger"
)

const wsQueryTimeout = 2 * time.Minute

type WebSocketHandler struct {
	engine ChatEngine
}

func NewWebSocketHandler(engine ChatEngine) *WebSocketHandler {
	return &WebSocketHandler{engine: engine}
}

type wsMessage struct {
	Type            string            `json:"type"`
	Content         string            `json:"content"`
	UserID          string            `json:"user_id"`
	UserProfile     assistant.Profile `json:"user_profile"`
	WebsiteURL      string            `json:"website_url"`
	IncludeDietPlan bool              `json:"include_diet_plan"`
}

// HandleConnection answers "query" messages, streaming the response word by
// word and finishing with a "complete" message that carries the metadata.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" || msg.Content == "" {
			continue
		}

		if err := h.streamResponse(c, msg); err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, msg wsMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsQueryTimeout)
	defer cancel()

	if err := h.sendChunk(c, "status", "Processing query..."); err != nil {
		return err
	}

	response, err := h.engine.ProcessQuery(ctx, query.QueryRequest{
		Query:           msg.Content,
		UserID:          msg.UserID,
		Profile:         msg.UserProfile,
		WebsiteURL:      msg.WebsiteURL,
		IncludeDietPlan: msg.IncludeDietPlan,
	})
	if err != nil {
		return err
	}

	words := splitIntoWords(response.Response)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}
		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":       "complete",
		"message_id": response.ID,
		"sources":    response.Sources,
		"confidence": response.Confidence,
		"diet_plan":  response.DietPlan,
		"metadata":   response.Metadata,
		"latency_ms": response.LatencyMS,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	_ = c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitIntoWords splits on spaces and keeps newlines as their own tokens.
func splitIntoWords(text string) []string {
	words := []string{}
	current := []rune{}

	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}
	for _, r := range text {
		switch r {
		case ' ':
			flush()
		case '\n':
			flush()
			words = append(words, "\n")
		default:
			current = append(current, r)
		}
	}
	flush()
	return words
}
