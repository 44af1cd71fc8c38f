package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/knowledge"
	"github.com/healthsphere/grounded-reports/internal/storage/models"
	"github.com/healthsphere/grounded-reports/pkg/logger"
)

type KnowledgeIngester interface {
	AddDocument(ctx context.Context, doc knowledge.Document) (*models.KnowledgeDocument, int, error)
}

type KnowledgeHandler struct {
	ingester KnowledgeIngester
	dev      bool
}

func NewKnowledgeHandler(ingester KnowledgeIngester, dev bool) *KnowledgeHandler {
	return &KnowledgeHandler{ingester: ingester, dev: dev}
}

func (h *KnowledgeHandler) AddDocument(c *fiber.Ctx) error {
	var req struct {
		Title   string `json:"title"`
		Source  string `json:"source"`
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	doc, chunks, err := h.ingester.AddDocument(c.UserContext(), knowledge.Document{
		Title:   req.Title,
		Source:  req.Source,
		Content: req.Content,
	})
	if errors.Is(err, knowledge.ErrEmptyDocument) {
		return badRequest(c, "content is required")
	}
	if err != nil {
		return respondError(c, err, h.dev)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Document processed successfully",
		"doc_id":  doc.ID,
		"title":   doc.Title,
		"chunks":  chunks,
	})
}
