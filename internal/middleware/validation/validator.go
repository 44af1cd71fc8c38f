package validation

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/pkg/apperrors"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength      int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed bodies on the chat, report and knowledge
// routes before they reach a handler. The sanitised chat body is stored in
// Locals under "sanitized_body".
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		path := c.Path()
		switch {
		case strings.HasSuffix(path, "/chatbot/query"):
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}

			query, ok := req["query"].(string)
			if !ok || strings.TrimSpace(query) == "" {
				return reject(c, fiber.StatusBadRequest, "query is required and must be a string")
			}
			if len(query) > cfg.MaxQueryLength {
				return reject(c, fiber.StatusBadRequest, "query exceeds maximum length")
			}
			if xssPattern.MatchString(query) {
				cfg.Logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()))
				return reject(c, fiber.StatusBadRequest, "Invalid query content")
			}
			if site, ok := req["website_url"].(string); ok && site != "" && !isValidURL(site) {
				return reject(c, fiber.StatusBadRequest, "Invalid website_url format")
			}

			req["query"] = sanitizeString(query)
			c.Locals("sanitized_body", req)

		case strings.HasSuffix(path, "/knowledge"):
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}

			content, ok := req["content"].(string)
			if !ok || strings.TrimSpace(content) == "" {
				return reject(c, fiber.StatusBadRequest, "content is required and must be a string")
			}
			if len(content) > cfg.MaxDocumentSize {
				return reject(c, fiber.StatusRequestEntityTooLarge, "Document content exceeds maximum size")
			}
			if src, ok := req["source"].(string); ok && strings.Contains(src, "://") && !isValidURL(src) {
				return reject(c, fiber.StatusBadRequest, "Invalid source URL format")
			}
		}

		return c.Next()
	}
}

func reject(c *fiber.Ctx, status int, message string) error {
	err := apperrors.New(apperrors.KindInvalidRequest, message)
	return c.Status(status).JSON(fiber.Map{"error": apperrors.ToBody(err, false)})
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	return strings.ReplaceAll(input, "\x00", "")
}

func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
