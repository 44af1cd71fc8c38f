package generator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\\r?\\n?(.*?)(?:```|$)")

// ReplyBody unwraps the first fenced code block in text, if any, and trims
// the result. Both the chat and the report path decode replies from it.
func ReplyBody(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// responseText pulls the generated text out of a provider response:
// candidates[0].content.parts[*].text joined by newlines, otherwise the raw
// JSON of the first candidate or of the whole body.
func responseText(data map[string]interface{}) string {
	candidates, ok := data["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return marshalString(data)
	}
	first, _ := candidates[0].(map[string]interface{})
	content, _ := first["content"].(map[string]interface{})
	parts, ok := content["parts"].([]interface{})
	if !ok {
		return marshalString(candidates[0])
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		pm, _ := p.(map[string]interface{})
		s, _ := pm["text"].(string)
		texts = append(texts, s)
	}
	return strings.Join(texts, "\n")
}

func marshalString(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

type structuredReply struct {
	Summary    json.RawMessage `json:"summary"`
	DietPlan   json.RawMessage `json:"diet_plan"`
	Sources    json.RawMessage `json:"sources"`
	Confidence *float64        `json:"confidence"`
}

// decodeOutput fills summary, diet plan and sources when text is a JSON
// object, bare or fenced, and otherwise treats the whole text as the summary.
func decodeOutput(text, model string) *Output {
	out := &Output{
		Text:     text,
		DietPlan: []string{},
		Sources:  []Source{},
		UsedAPI:  true,
		Model:    model,
	}

	if body := ReplyBody(text); strings.HasPrefix(body, "{") {
		var reply structuredReply
		if err := json.Unmarshal([]byte(body), &reply); err == nil {
			out.Summary = RawString(reply.Summary)
			out.DietPlan = StringList(reply.DietPlan)
			out.Sources = sourceList(reply.Sources)
			out.Confidence = reply.Confidence
		}
	}
	if out.Summary == "" {
		out.Summary = text
	}
	return out
}

// RawString renders a JSON value as text: strings unquoted, null as empty,
// anything else as compact JSON.
func RawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// StringList accepts a JSON array or a single value and returns its items as
// strings; empty items are dropped.
func StringList(raw json.RawMessage) []string {
	out := []string{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		if s := RawString(raw); s != "" {
			out = append(out, s)
		}
		return out
	}
	for _, item := range items {
		if s := RawString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sourceList(raw json.RawMessage) []Source {
	out := []Source{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, item := range items {
		var src Source
		if err := json.Unmarshal(item, &src); err == nil && src.Title != "" {
			out = append(out, src)
			continue
		}
		if s := RawString(item); s != "" && !strings.HasPrefix(s, "{") {
			out = append(out, Source{Title: s})
		}
	}
	return out
}
