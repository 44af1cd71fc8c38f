package web

import (
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/healthsphere/grounded-reports/pkg/utils"
)

const (
	maxKeySentences    = 5
	keyFeaturesChars   = 500
	contentSummaryRune = 300
	minSentenceChars   = 15
)

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

var featurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)benefit|advantage|improve|enhance|help`),
	regexp.MustCompile(`(?i)feature|capability|function|tool|service`),
	regexp.MustCompile(`(?i)price|cost|plan|subscription|free`),
	regexp.MustCompile(`(?i)health|wellness|fitness|nutrition|medical|disease|treatment`),
	regexp.MustCompile(`(?i)recommend|suggest|advise|should|best practice`),
}

// Features is the structured summary of a scraped site.
type Features struct {
	Title          string   `json:"title"`
	KeyFeatures    string   `json:"key_features"`
	ContentSummary string   `json:"content_summary"`
	URLsProcessed  []string `json:"urls_processed"`
}

// sentences splits text with prose's segmenter; it falls back to splitting
// on terminal punctuation when the document cannot be built.
func sentences(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return sentenceEnd.Split(text, -1)
	}
	out := make([]string, 0, len(doc.Sentences()))
	for _, s := range doc.Sentences() {
		out = append(out, s.Text)
	}
	return out
}

// ExtractKeyFeatures keeps up to five sentences that mention benefits,
// features, pricing, health topics or recommendations, joined and cut at a
// word boundary when longer than maxLength.
func ExtractKeyFeatures(content string, maxLength int) string {
	if content == "" {
		return ""
	}

	var key []string
	for _, s := range sentences(content) {
		s = strings.TrimRight(strings.TrimSpace(s), ".!?")
		if len(s) < minSentenceChars {
			continue
		}
		for _, p := range featurePatterns {
			if p.MatchString(s) {
				key = append(key, s)
				break
			}
		}
		if len(key) == maxKeySentences {
			break
		}
	}

	summary := strings.Join(key, ". ")
	if len([]rune(summary)) > maxLength {
		cut := utils.Truncate(summary, maxLength)
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
		summary = cut + "..."
	}
	return summary
}

// ExtractStructuredFeatures summarises the first page of a scrape.
func ExtractStructuredFeatures(pages []Page) Features {
	f := Features{URLsProcessed: []string{}}
	for _, p := range pages {
		f.URLsProcessed = append(f.URLsProcessed, p.URL)
	}
	if len(pages) == 0 {
		return f
	}

	main := pages[0]
	f.Title = main.Title
	f.KeyFeatures = ExtractKeyFeatures(main.Content, keyFeaturesChars)
	if len([]rune(main.Content)) > contentSummaryRune {
		f.ContentSummary = utils.Truncate(main.Content, contentSummaryRune) + "..."
	} else {
		f.ContentSummary = main.Content
	}
	return f
}
