package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/assistant"
	"github.com/healthsphere/grounded-reports/internal/report"
	"github.com/healthsphere/grounded-reports/pkg/logger"
)

type ReportProcessor interface {
	ProcessFile(ctx context.Context, req report.Request) (*report.Result, error)
	ProcessText(ctx context.Context, req report.TextRequest) (*report.Result, error)
}

type ReportHandler struct {
	processor ReportProcessor
	dev       bool
}

func NewReportHandler(processor ReportProcessor, dev bool) *ReportHandler {
	return &ReportHandler{processor: processor, dev: dev}
}

func (h *ReportHandler) ProcessReport(c *fiber.Ctx) error {
	var req struct {
		UserID       string                `json:"userId"`
		FilePath     string                `json:"filePath"`
		OriginalName string                `json:"originalName"`
		LabResults   []assistant.LabResult `json:"lab_results"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if req.FilePath == "" {
		return badRequest(c, "filePath is required")
	}

	result, err := h.processor.ProcessFile(c.UserContext(), report.Request{
		UserID:       req.UserID,
		FilePath:     req.FilePath,
		OriginalName: req.OriginalName,
		LabResults:   req.LabResults,
	})
	if err != nil {
		logger.Error("Failed to process report", zap.String("path", req.FilePath), zap.Error(err))
		return respondError(c, err, h.dev)
	}
	return c.JSON(result)
}

func (h *ReportHandler) ProcessReportText(c *fiber.Ctx) error {
	var req struct {
		UserID     string                `json:"userId"`
		Text       string                `json:"text"`
		FileName   string                `json:"fileName"`
		LabResults []assistant.LabResult `json:"lab_results"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if req.Text == "" {
		return badRequest(c, "text is required")
	}

	result, err := h.processor.ProcessText(c.UserContext(), report.TextRequest{
		UserID:     req.UserID,
		Text:       req.Text,
		FileName:   req.FileName,
		LabResults: req.LabResults,
	})
	if err != nil {
		logger.Error("Failed to process report text", zap.Error(err))
		return respondError(c, err, h.dev)
	}
	return c.JSON(result)
}
