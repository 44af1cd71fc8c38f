package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/pkg/apperrors"
	"github.com/healthsphere/grounded-reports/pkg/logger"
)

// respondError renders err as {"error": {kind, message, stack?}} with the
// status for its kind. The stack is only included in development.
func respondError(c *fiber.Ctx, err error, dev bool) error {
	kind := apperrors.KindOf(err)
	if kind == apperrors.KindInternal {
		logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(kind.HTTPStatus()).JSON(fiber.Map{
		"error": apperrors.ToBody(err, dev),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return respondError(c, apperrors.New(apperrors.KindInvalidRequest, message), false)
}
