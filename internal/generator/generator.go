// Package generator wraps the text-generation providers behind one call that
// enforces the required-field precondition, retries with backoff and falls
// back to a secondary provider. Its output is never trusted downstream.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/healthsphere/grounded-reports/internal/llm"
	"github.com/healthsphere/grounded-reports/internal/metrics"
	"github.com/healthsphere/grounded-reports/pkg/apperrors"
	"github.com/healthsphere/grounded-reports/pkg/circuitbreaker"
	"github.com/healthsphere/grounded-reports/pkg/retry"
)

const (
	InsufficientDataPrefix = "Insufficient data to recommend: "

	maxOutputTokens = 512
	defaultEndpoint = "https://generativelanguage.googleapis.com/v1/models/%s:generateContent"
)

type Request struct {
	System string
	User   string
	// Structured, when set, is the authoritative source for the required-field check.
	Structured     map[string]string
	RequiredFields []string
}

type Source struct {
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	Relevance float64 `json:"relevance,omitempty"`
}

type Output struct {
	Text       string   `json:"text"`
	Summary    string   `json:"summary"`
	DietPlan   []string `json:"diet_plan"`
	Sources    []Source `json:"sources"`
	Confidence *float64 `json:"confidence,omitempty"`
	UsedAPI    bool     `json:"used_api"`
	Model      string   `json:"model"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Output, error)
}

// Completer is the secondary chat-completion provider.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	Model() string
}

type Config struct {
	Endpoint         string
	APIKey           string
	Model            string
	Timeout          time.Duration
	MaxAttempts      int
	InitialBackoff   time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
}

// Adapter calls the primary REST endpoint and, when it is not configured or
// keeps failing, the secondary completer once.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	secondary  Completer
	cb         *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
	logger     *zap.Logger
}

func NewAdapter(cfg Config, secondary Completer, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.Endpoint == "" && cfg.Model != "" {
		cfg.Endpoint = fmt.Sprintf(defaultEndpoint, cfg.Model)
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{},
		secondary:  secondary,
		cb: circuitbreaker.NewCircuitBreaker("generator", circuitbreaker.Config{
			FailureThreshold: uint32(cfg.FailureThreshold),
			OpenTimeout:      cfg.OpenTimeout,
			Logger:           logger,
		}),
		retryCfg: retry.Config{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialBackoff,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Logger:       logger,
		},
		logger: logger,
	}
}

func (a *Adapter) primaryConfigured() bool {
	return a.cfg.APIKey != "" && a.cfg.Endpoint != ""
}

func (a *Adapter) Generate(ctx context.Context, req Request) (*Output, error) {
	if missing := missingFields(req); len(missing) > 0 {
		a.logger.Info("Skipping generation, required fields missing", zap.Strings("missing", missing))
		return &Output{
			Text:     InsufficientDataPrefix + strings.Join(missing, ", "),
			DietPlan: []string{},
			Sources:  []Source{},
			Model:    a.cfg.Model,
		}, nil
	}

	user := req.User
	if user == "" && len(req.Structured) > 0 {
		user = renderStructured(req.Structured)
	}

	var primaryErr error
	if a.primaryConfigured() {
		start := time.Now()
		text, err := a.callPrimary(ctx, req.System, user)
		metrics.GeneratorLatency.WithLabelValues("primary").Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.GeneratorRequests.WithLabelValues("primary", "success").Inc()
			return decodeOutput(text, a.cfg.Model), nil
		}
		metrics.GeneratorRequests.WithLabelValues("primary", "error").Inc()
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(ctx.Err(), apperrors.KindGeneratorUnavailable, "generation cancelled")
		}
		a.logger.Warn("Primary generator failed", zap.Error(err))
		primaryErr = err
	} else {
		primaryErr = fmt.Errorf("primary generator not configured")
	}

	if a.secondary == nil {
		return nil, apperrors.Wrap(primaryErr, apperrors.KindGeneratorUnavailable, "no generator available")
	}

	start := time.Now()
	resp, err := a.secondary.Complete(ctx, llm.CompletionRequest{SystemPrompt: req.System, UserPrompt: user, Attempts: 1})
	metrics.GeneratorLatency.WithLabelValues("secondary").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GeneratorRequests.WithLabelValues("secondary", "error").Inc()
		return nil, apperrors.Wrap(
			fmt.Errorf("primary: %v; secondary: %w", primaryErr, err),
			apperrors.KindGeneratorUnavailable,
			"all generators failed",
		)
	}
	metrics.GeneratorRequests.WithLabelValues("secondary", "success").Inc()
	return decodeOutput(resp.Content, a.secondary.Model()), nil
}

// callPrimary posts the prompt, rotating the body shape on each attempt.
func (a *Adapter) callPrimary(ctx context.Context, system, user string) (string, error) {
	var text string
	err := a.cb.Execute(ctx, func() error {
		return retry.Do(ctx, a.retryCfg, func(attempt int) error {
			body := bodyShape(attempt, system, user)
			a.logger.Debug("Calling primary generator",
				zap.Int("attempt", attempt+1),
				zap.Strings("body_shape", shapeKeys(body)),
			)
			data, err := a.post(ctx, body)
			if err != nil {
				return err
			}
			text = responseText(data)
			return nil
		})
	})
	return text, err
}

func (a *Adapter) post(ctx context.Context, body map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint, err := url.Parse(a.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid generator endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("key", a.cfg.APIKey)
	endpoint.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generator request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read generator response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generator returned status %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode generator response: %w", err)
	}
	return data, nil
}

func bodyShape(attempt int, system, user string) map[string]interface{} {
	full := system + "\n\n" + user
	shapes := []func() map[string]interface{}{
		func() map[string]interface{} {
			return map[string]interface{}{
				"instances": []interface{}{map[string]interface{}{"input": map[string]interface{}{"text": full}}},
			}
		},
		func() map[string]interface{} {
			return map[string]interface{}{
				"contents": []interface{}{map[string]interface{}{"parts": []interface{}{map[string]interface{}{"text": full}}}},
				"generationConfig": map[string]interface{}{
					"temperature":     0.0,
					"maxOutputTokens": maxOutputTokens,
					"topP":            0.95,
					"topK":            64,
				},
			}
		},
		func() map[string]interface{} {
			return map[string]interface{}{"prompt": full, "maxOutputTokens": maxOutputTokens, "temperature": 0.0}
		},
		func() map[string]interface{} {
			return map[string]interface{}{
				"messages": []interface{}{
					map[string]interface{}{"role": "system", "content": system},
					map[string]interface{}{"role": "user", "content": user},
				},
				"maxOutputTokens": maxOutputTokens,
			}
		},
	}
	return shapes[attempt%len(shapes)]()
}

func shapeKeys(body map[string]interface{}) []string {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func missingFields(req Request) []string {
	var missing []string
	for _, f := range req.RequiredFields {
		if req.Structured != nil {
			if strings.TrimSpace(req.Structured[f]) == "" {
				missing = append(missing, f)
			}
			continue
		}
		if !strings.Contains(req.User, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func renderStructured(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + ": " + m[k]
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
