package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

var whitespaceRun = regexp.MustCompile(`[ \t]+`)

// TextExtractor turns a stored report file into plain text. It never treats
// an unreadable or unsupported file as fatal: the caller gets an empty string
// and decides what "no data" means.
type TextExtractor struct {
	logger *zap.Logger
}

func NewTextExtractor(logger *zap.Logger) *TextExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextExtractor{logger: logger}
}

func (e *TextExtractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("Report file not found", zap.String("path", path))
			return "", nil
		}
		return "", fmt.Errorf("failed to stat report file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("report path is a directory: %s", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md", ".csv":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read report file: %w", err)
		}
		return string(data), nil
	case ".pdf":
		return e.extractPDF(path)
	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read report file: %w", err)
		}
		return CleanHTML(string(data)), nil
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
		e.logger.Warn("Image reports need OCR, which is not available", zap.String("path", path))
		return "", nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read report file: %w", err)
		}
		if !utf8.Valid(data) {
			e.logger.Warn("Unsupported binary report format", zap.String("path", path), zap.String("ext", ext))
			return "", nil
		}
		return string(data), nil
	}
}

func (e *TextExtractor) extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		e.logger.Warn("Failed to open PDF", zap.String("path", path), zap.Error(err))
		return "", nil
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		e.logger.Warn("PDF has no extractable text layer", zap.String("path", path), zap.Error(err))
		return "", nil
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("failed to read PDF text: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// CleanHTML drops page chrome and scripts and returns the visible body text,
// keeping line breaks between block elements.
func CleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})
	doc.Find("p, div, li, tr, br, h1, h2, h3, h4, h5, h6").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		line = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Title returns the page title or first heading.
func Title(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "Untitled"
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = "Untitled"
	}
	return title
}
