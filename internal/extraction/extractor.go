package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/pkg/utils"
)

// snippetRadius is the number of characters kept on each side of a match.
const snippetRadius = 60

type fieldPattern struct {
	field Field
	re    *regexp.Regexp
}

// Patterns are tried in this order; the first usable match per field wins.
var fieldPatterns = []fieldPattern{
	{FastingGlucose, regexp.MustCompile(`(?i)(?:fasting glucose|fasting plasma glucose|FPG|fasting blood sugar|FBS|glucose|blood glucose)[:\s]*?(\d{1,3}(?:\.\d+)?)\s*(mg/dL|mg/dl|mgdl|mmol/L|mmol/l|mmol)?`)},
	{HbA1c, regexp.MustCompile(`(?i)(?:hba1c|hba1c\s*%|hemoglobin a1c|hb a1c|ha1c)[:\s]*(\d{1,2}(?:\.\d+)?)\s*%?`)},
	{TotalCholesterol, regexp.MustCompile(`(?i)(?:total cholesterol|cholesterol)[:\s]*(\d{2,3})\s*(mg/dL|mg/dl|mgdl)?`)},
	{LDL, regexp.MustCompile(`(?i)(?:ldl|ldl-c|ldl cholesterol|bad cholesterol)[:\s]*(\d{2,3})\s*(mg/dL|mg/dl|mgdl)?`)},
	{HDL, regexp.MustCompile(`(?i)(?:hdl|hdl-c|hdl cholesterol|good cholesterol)[:\s]*(\d{1,2})\s*(mg/dL|mg/dl|mgdl)?`)},
	{Triglycerides, regexp.MustCompile(`(?i)(?:triglyceride[s]?|tg)[:\s]*(\d{2,3})\s*(mg/dL|mg/dl|mgdl)?`)},
	{SystolicBP, regexp.MustCompile(`(?i)(?:systolic|systolic blood pressure|SBP|blood pressure|BP)[:\s]*?(\d{2,3})(?:/(\d{2,3}))?\s*(mmHg)?`)},
	{DiastolicBP, regexp.MustCompile(`(?i)(?:diastolic|diastolic blood pressure|DBP)(?:[:\s]*(\d{2,3}))?\s*(mmHg)?`)},
	{BMI, regexp.MustCompile(`(?i)\bBMI[:\s]*(\d{1,2}\.\d|\d{1,2})\b`)},
	{Hemoglobin, regexp.MustCompile(`(?i)hemoglobin[:\s]*(\d{1,2}\.\d|\d{1,2})\s*(g/dL|g/dl|gdl)?`)},
	{PatientName, regexp.MustCompile(`(?i)(?:patient name|patient:|name:)[:\s]+([A-Za-z\s\.]+?)(?:\n|,|\||$|Female|Male|DOB|Date)`)},
}

var (
	bloodPressurePair = regexp.MustCompile(`\b(\d{2,3})/(\d{2,3})\b`)
	unitValue         = regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*(mg/dL|mg/dl|mgdl|mmol/L|mmol/l|mmol|%)`)
	percentValue      = regexp.MustCompile(`(\d{1,2}(?:\.\d+)?)\s*%`)
)

type keywordField struct {
	keyword string
	field   Field
}

// lineKeywords maps lower-case keywords seen on a line to the field a unit
// value on that line most likely belongs to. Order matters.
var lineKeywords = []keywordField{
	{"glucose", FastingGlucose},
	{"fasting glucose", FastingGlucose},
	{"fpg", FastingGlucose},
	{"blood glucose", FastingGlucose},
	{"a1c", HbA1c},
	{"hba1c", HbA1c},
	{"hemoglobin a1c", HbA1c},
	{"cholesterol", TotalCholesterol},
	{"total cholesterol", TotalCholesterol},
	{"ldl", LDL},
	{"hdl", HDL},
	{"triglyceride", Triglycerides},
	{"triglycerides", Triglycerides},
	{"tg", Triglycerides},
	{"systolic", SystolicBP},
	{"diastolic", DiastolicBP},
	{"bp", SystolicBP},
}

// Result is the output of a single extraction pass.
type Result struct {
	Facts    Facts      `json:"facts"`
	Evidence []Evidence `json:"evidence"`
}

// EvidenceByID indexes the evidence list.
func (r Result) EvidenceByID() map[string]Evidence {
	out := make(map[string]Evidence, len(r.Evidence))
	for _, ev := range r.Evidence {
		out[ev.ID] = ev
	}
	return out
}

// Extractor pulls lab values and their supporting snippets out of raw text.
// It is stateless and safe for concurrent use.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract is a pure function of text: identical input yields identical
// facts, evidence and evidence IDs.
func (e *Extractor) Extract(text string) Result {
	res := Result{Facts: NewFacts()}

	for _, p := range fieldPatterns {
		if res.Facts.Has(p.field) {
			continue
		}
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			raw, ok := group(text, m, 1)
			if !ok {
				continue
			}
			value := ParseValue(raw)
			if !value.IsNumeric() && strings.TrimSpace(value.String()) == "" {
				continue
			}
			res.Facts.Set(p.field, value)
			res.Evidence = append(res.Evidence, newEvidence(text, p.field, m[0], m[1], true))
			e.logger.Debug("Fact extracted", zap.String("field", string(p.field)), zap.String("value", value.String()))

			if p.field == SystolicBP && !res.Facts.Has(DiastolicBP) {
				e.splitBloodPressure(text, m, &res)
			}
			break
		}
	}

	e.scanLines(text, &res)
	return res
}

// splitBloodPressure fills diastolic_bp from a "NNN/NNN" reading. The
// systolic value already stored is left untouched.
func (e *Extractor) splitBloodPressure(text string, systolic []int, res *Result) {
	if raw, ok := group(text, systolic, 2); ok {
		res.Facts.Set(DiastolicBP, ParseValue(raw))
		res.Evidence = append(res.Evidence, newEvidence(text, DiastolicBP, systolic[0], systolic[1], true))
		return
	}
	m := bloodPressurePair.FindStringSubmatchIndex(text)
	if m == nil {
		return
	}
	raw, _ := group(text, m, 2)
	res.Facts.Set(DiastolicBP, ParseValue(raw))
	res.Evidence = append(res.Evidence, newEvidence(text, DiastolicBP, m[0], m[1], true))
	e.logger.Debug("Blood pressure split", zap.String("reading", text[m[0]:m[1]]))
}

// scanLines recovers values from table-like layouts where the label and the
// number are separated, checking the current line then the previous one.
func (e *Extractor) scanLines(text string, res *Result) {
	var (
		offset   int
		prevLow  string
		havePrev bool
	)
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSuffix(rawLine, "\r")
		lineStart := offset
		offset += len(rawLine) + 1
		low := strings.ToLower(line)

		for _, m := range unitValue.FindAllStringSubmatchIndex(line, -1) {
			field, ok := matchKeyword(low, res.Facts)
			if !ok && havePrev {
				field, ok = matchKeyword(prevLow, res.Facts)
			}
			if !ok {
				continue
			}
			value := ParseValue(line[m[2]:m[3]])
			res.Facts.Set(field, value)
			res.Evidence = append(res.Evidence, newEvidence(text, field, lineStart, lineStart+len(line), false))
			e.logger.Debug("Line scan mapped value", zap.String("field", string(field)), zap.String("value", value.String()))
		}

		if !res.Facts.Has(HbA1c) && strings.Contains(low, "a1c") {
			if m := percentValue.FindStringSubmatchIndex(line); m != nil {
				res.Facts.Set(HbA1c, ParseValue(line[m[2]:m[3]]))
				res.Evidence = append(res.Evidence, newEvidence(text, HbA1c, lineStart, lineStart+len(line), false))
			}
		}

		prevLow = low
		havePrev = true
	}
}

func matchKeyword(context string, facts Facts) (Field, bool) {
	for _, kw := range lineKeywords {
		if strings.Contains(context, kw.keyword) && !facts.Has(kw.field) {
			return kw.field, true
		}
	}
	return "", false
}

func group(text string, m []int, n int) (string, bool) {
	if len(m) <= 2*n+1 || m[2*n] < 0 {
		return "", false
	}
	s := text[m[2*n]:m[2*n+1]]
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// newEvidence builds the evidence record for text[start:end], widened by
// snippetRadius characters on each side when widen is set.
func newEvidence(text string, field Field, start, end int, widen bool) Evidence {
	if widen {
		start, end = widenRunes(text, start, end, snippetRadius)
	}
	return Evidence{
		ID:    utils.ShortID("ev", string(field), strconv.Itoa(start), strconv.Itoa(end)),
		Field: field,
		Text:  text[start:end],
		Start: start,
		End:   end,
	}
}

func widenRunes(text string, start, end, n int) (int, int) {
	for i := 0; i < n && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	for i := 0; i < n && end < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return start, end
}
