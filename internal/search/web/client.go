package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/pkg/logger"
	"github.com/healthsphere/grounded-reports/pkg/utils"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

var contentSelectors = []string{
	"main", `[role="main"]`, ".content", "#content", ".main-content", "article", ".post-content", ".entry-content",
}

var whitespace = regexp.MustCompile(`\s+`)

type Client struct {
	httpClient      *http.Client
	maxPages        int
	maxContentChars int
}

// Page is the cleaned text of one scraped page.
type Page struct {
	URL     string
	Title   string
	Content string
}

func NewClient(timeout time.Duration, maxPages, maxContentChars int) *Client {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxPages:        maxPages,
		maxContentChars: maxContentChars,
	}
}

// Scrape fetches rawURL and up to maxPages-1 same-host pages it links to.
// The first page is always rawURL; linked pages that fail are skipped.
func (c *Client) Scrape(ctx context.Context, rawURL string) ([]Page, error) {
	base, err := url.Parse(rawURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid website url %q", rawURL)
	}

	doc, err := c.fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to scrape %s: %w", rawURL, err)
	}

	pages := []Page{c.extractPage(doc, rawURL)}
	links := internalLinks(doc, base)

	for _, link := range links {
		if len(pages) >= c.maxPages {
			break
		}
		linked, err := c.fetch(ctx, link)
		if err != nil {
			logger.Warn("Failed to scrape linked page", zap.String("url", link), zap.Error(err))
			continue
		}
		pages = append(pages, c.extractPage(linked, link))
	}

	logger.Info("Website scraped", zap.String("url", rawURL), zap.Int("pages", len(pages)))
	return pages, nil
}

func (c *Client) fetch(ctx context.Context, urlStr string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// extractPage flattens a page into "Title: ... Description: ... Headings:
// ... Content: ... Source: ..." on a single line.
func (c *Client) extractPage(doc *goquery.Document, pageURL string) Page {
	doc.Find("script, style").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	desc, _ := doc.Find(`meta[name="description"]`).Attr("content")
	desc = strings.TrimSpace(desc)

	var headings []string
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		if h := strings.TrimSpace(s.Text()); h != "" {
			headings = append(headings, h)
		}
	})

	var main string
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			main = collapse(s.Text())
			break
		}
	}
	if main == "" {
		var paras []string
		doc.Find("p").Each(func(_ int, s *goquery.Selection) {
			if p := strings.TrimSpace(s.Text()); p != "" {
				paras = append(paras, p)
			}
		})
		main = strings.Join(paras, " ")
	}

	var b strings.Builder
	b.WriteString("Title: " + title + "\n\n")
	if desc != "" {
		b.WriteString("Description: " + desc + "\n\n")
	}
	if len(headings) > 0 {
		b.WriteString("Headings: " + strings.Join(headings, " | ") + "\n\n")
	}
	b.WriteString("Content: " + main + "\n\n")
	b.WriteString("Source: " + pageURL)

	content := collapse(b.String())
	if c.maxContentChars > 0 {
		content = utils.Truncate(content, c.maxContentChars)
	}
	return Page{URL: pageURL, Title: title, Content: content}
}

// internalLinks returns distinct same-host http(s) links without query or
// fragment, excluding the base page itself.
func internalLinks(doc *goquery.Document, base *url.URL) []string {
	seen := map[string]bool{base.String(): true}
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := base.Parse(href)
		if err != nil || u.Host != base.Host || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		clean := fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)
		if seen[clean] {
			return
		}
		seen[clean] = true
		links = append(links, clean)
	})
	return links
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
