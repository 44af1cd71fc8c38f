package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/assistant"
	"github.com/healthsphere/grounded-reports/internal/query"
	"github.com/healthsphere/grounded-reports/internal/storage/models"
	"github.com/healthsphere/grounded-reports/pkg/logger"
)

type ChatEngine interface {
	ProcessQuery(ctx context.Context, req query.QueryRequest) (*query.QueryResponse, error)
	History(ctx context.Context, userID string, limit int) ([]models.QueryRecord, error)
	SubmitFeedback(ctx context.Context, feedback *models.Feedback) error
}

type QueryHandler struct {
	engine ChatEngine
	dev    bool
}

func NewQueryHandler(engine ChatEngine, dev bool) *QueryHandler {
	return &QueryHandler{engine: engine, dev: dev}
}

type chatRequest struct {
	Query           string            `json:"query"`
	UserID          string            `json:"user_id"`
	UserProfile     assistant.Profile `json:"user_profile"`
	Context         string            `json:"context"`
	Report          *assistant.Report `json:"report"`
	WebsiteURL      string            `json:"website_url"`
	IncludeDietPlan bool              `json:"include_diet_plan"`
}

func (r chatRequest) toQuery() query.QueryRequest {
	return query.QueryRequest{
		Query:           r.Query,
		UserID:          r.UserID,
		Profile:         r.UserProfile,
		Context:         r.Context,
		Report:          r.Report,
		WebsiteURL:      r.WebsiteURL,
		IncludeDietPlan: r.IncludeDietPlan,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if sanitized, ok := c.Locals("sanitized_body").(map[string]interface{}); ok {
		if q, ok := sanitized["query"].(string); ok {
			req.Query = q
		}
	}
	if req.Query == "" {
		return badRequest(c, "query is required")
	}

	response, err := h.engine.ProcessQuery(c.UserContext(), req.toQuery())
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return respondError(c, err, h.dev)
	}
	return c.JSON(response)
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id is required")
	}

	records, err := h.engine.History(c.UserContext(), userID, c.QueryInt("limit", 20))
	if err != nil {
		return respondError(c, err, h.dev)
	}

	history := make([]fiber.Map, 0, len(records))
	for _, r := range records {
		history = append(history, fiber.Map{
			"query_id":   r.ID,
			"query":      r.QueryText,
			"response":   r.Response,
			"confidence": r.Confidence,
			"documents":  r.DocumentsCount,
			"used_api":   r.UsedAPI,
			"latency_ms": r.LatencyMS,
			"created_at": r.CreatedAt.Unix(),
		})
	}
	return c.JSON(fiber.Map{"history": history})
}

func (h *QueryHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID       string `json:"query_id"`
		Helpful       bool   `json:"helpful"`
		IssueCategory string `json:"issue_category"`
		Comment       string `json:"comment"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.QueryID == "" {
		return badRequest(c, "query_id is required")
	}

	err := h.engine.SubmitFeedback(c.UserContext(), &models.Feedback{
		QueryID:       req.QueryID,
		Helpful:       req.Helpful,
		IssueCategory: req.IssueCategory,
		Comment:       req.Comment,
	})
	if err != nil {
		return respondError(c, err, h.dev)
	}
	return c.JSON(fiber.Map{"message": "Feedback recorded"})
}
