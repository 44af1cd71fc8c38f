package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExtractPlainText(t *testing.T) {
	path := writeFile(t, "report.txt", "Fasting Glucose: 165 mg/dL")

	text, err := NewTextExtractor(nil).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Fasting Glucose: 165 mg/dL", text)
}

func TestExtractMissingFileIsEmpty(t *testing.T) {
	text, err := NewTextExtractor(nil).Extract(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractImageIsEmpty(t *testing.T) {
	path := writeFile(t, "scan.png", "\x89PNG\r\n")

	text, err := NewTextExtractor(nil).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractHTMLKeepsLines(t *testing.T) {
	html := `<html><head><title>Lab</title><script>var x = 1;</script></head>
<body><nav>menu</nav><p>Fasting Glucose: 165 mg/dL</p><p>HbA1c:   8.5%</p></body></html>`
	path := writeFile(t, "report.html", html)

	text, err := NewTextExtractor(nil).Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Fasting Glucose: 165 mg/dL\nHbA1c: 8.5%", text)
	assert.Equal(t, "Lab", Title(html))
}
