// Package verify checks generated text against the facts and evidence it was
// built from and turns the outcome into a confidence score.
package verify

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/healthsphere/grounded-reports/internal/extraction"
)

const (
	IssueEmptyText = "Model returned empty text"

	minCitedIDLength = 4
	numericClaimMax  = 100
)

var (
	citedID      = regexp.MustCompile(`(?i)\bID\b[:\s]*([\w\-]+)`)
	numericClaim = regexp.MustCompile(`\b(\d{2,3}(?:\.\d+)?)\b`)
)

// Result is the soft verification outcome. Verified is false only when the
// model produced no text; everything else is reported as an issue.
type Result struct {
	Verified bool     `json:"verified"`
	Issues   []string `json:"issues"`
}

// Verify flags evidence IDs the text cites that were never supplied and
// numbers above 100 that match no extracted fact.
func Verify(text string, facts extraction.Facts, evidence []extraction.Evidence) Result {
	if text == "" {
		return Result{Verified: false, Issues: []string{IssueEmptyText}}
	}

	issues := []string{}

	known := make(map[string]struct{}, len(evidence))
	for _, ev := range evidence {
		known[ev.ID] = struct{}{}
	}
	for _, m := range citedID.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if len(id) < minCitedIDLength {
			continue
		}
		if _, ok := known[id]; !ok {
			issues = append(issues, fmt.Sprintf("Unknown evidence ID referenced: %s", id))
		}
	}

	values := facts.ValueStrings()
	for _, m := range numericClaim.FindAllStringSubmatch(text, -1) {
		n := m[1]
		if _, ok := values[n]; ok {
			continue
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			continue
		}
		if int(f) > numericClaimMax {
			issues = append(issues, fmt.Sprintf("Potentially unverified numeric claim: %s", n))
		}
	}

	return Result{Verified: true, Issues: issues}
}
