// Package gateway submits one logical LLM call to the relay as an ordered
// list of provider candidates and reassembles whichever stream answers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/wall-e/internal/config"
	"github.com/af-corp/wall-e/internal/providers"
	"github.com/af-corp/wall-e/internal/redact"
	"github.com/af-corp/wall-e/internal/registry"
	"github.com/af-corp/wall-e/internal/telemetry"
	"github.com/af-corp/wall-e/internal/types"
)

const maxBodyBytes = 32 << 20

type Request struct {
	Model       registry.ModelName
	Prompts     types.PromptMessages
	Temperature float64
}

// Response is the normalized result of a relay call.
type Response struct {
	Text     string
	Provider registry.Provider
	Model    registry.ModelName
	EventID  string
	Metadata []string

	InputTokens  int64
	OutputTokens int64
}

type Gateway struct {
	catalog       *registry.Catalog
	client        *http.Client
	url           string
	authToken     string
	eventIDHeader string
	stepHeader    string
	scanner       *redact.Scanner
	maxBody       int
	metrics       *telemetry.Metrics
	logger        *slog.Logger
}

func New(catalog *registry.Catalog, cfg config.RelayConfig, client *http.Client, metrics *telemetry.Metrics, logger *slog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		catalog:       catalog,
		client:        client,
		url:           cfg.URL(),
		authToken:     cfg.AuthToken,
		eventIDHeader: cfg.EventIDHeader,
		stepHeader:    cfg.StepHeader,
		scanner:       redact.NewScanner(),
		maxBody:       maxBodyBytes,
		metrics:       metrics,
		logger:        logger.With("component", "gateway"),
	}
}

// Candidates builds the relay steps: the primary provider first, then, when
// allowFallback is set, every other provider with a default model in the
// catalog's priority order. The result depends only on the catalog.
func (g *Gateway) Candidates(req Request, allowFallback bool) ([]providers.Request, []registry.ModelName, error) {
	primary := g.catalog.ProviderForModel(req.Model)
	if primary == registry.Unknown {
		return nil, nil, fmt.Errorf("%w: %s", registry.ErrInvalidModel, req.Model)
	}

	first, err := g.build(primary, req.Model, req)
	if err != nil {
		return nil, nil, err
	}
	steps := []providers.Request{first}
	models := []registry.ModelName{req.Model}

	if !allowFallback {
		return steps, models, nil
	}
	for _, p := range g.catalog.Priority() {
		if p == primary {
			continue
		}
		model, ok := g.catalog.DefaultModel(p)
		if !ok {
			continue
		}
		step, err := g.build(p, model, req)
		if err != nil {
			return nil, nil, err
		}
		steps = append(steps, step)
		models = append(models, model)
	}
	return steps, models, nil
}

func (g *Gateway) build(p registry.Provider, model registry.ModelName, req Request) (providers.Request, error) {
	return providers.Build(g.catalog, p, providers.Params{
		Model:       model,
		Prompts:     req.Prompts,
		APIKey:      g.catalog.APIKey(p),
		Temperature: req.Temperature,
		Stream:      true,
	})
}

// Send posts all candidates in one relay call. There is no local retry:
// fallback between providers is resolved by the relay.
func (g *Gateway) Send(ctx context.Context, req Request, allowFallback bool) (*Response, error) {
	steps, models, err := g.Candidates(req, allowFallback)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.authToken != "" {
		httpReq.Header.Set("cf-aig-authorization", "Bearer "+g.authToken)
	}

	start := time.Now()
	g.logger.Info("sending relay request",
		"model", req.Model,
		"candidates", len(steps),
		"fallback", allowFallback,
	)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.record("none", "transport_error", start, Folded{})
		return nil, &GatewayError{Params: g.redacted(steps), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(g.maxBody)+1))
	if err != nil {
		g.record("none", "read_error", start, Folded{})
		return nil, &GatewayError{Status: resp.StatusCode, Params: g.redacted(steps), Err: fmt.Errorf("read relay body: %w", err)}
	}
	if len(body) > g.maxBody {
		g.record("none", "too_large", start, Folded{})
		return nil, &GatewayError{Status: resp.StatusCode, Params: g.redacted(steps), Err: fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, g.maxBody)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.record("none", strconv.Itoa(resp.StatusCode), start, Folded{})
		return nil, &GatewayError{Status: resp.StatusCode, Body: string(body), Params: g.redacted(steps)}
	}

	events, err := ParseEvents(bytes.NewReader(body), g.logger)
	if err != nil {
		return nil, &GatewayError{Status: resp.StatusCode, Params: g.redacted(steps), Err: err}
	}
	if len(events) == 0 {
		g.record("none", "empty", start, Folded{})
		return nil, &GatewayError{Status: resp.StatusCode, Body: string(body), Params: g.redacted(steps)}
	}

	provider, model := g.attribute(resp.Header, steps, models)
	if provider == registry.Unknown {
		provider, err = Detect(events)
		if err != nil {
			g.record("unknown", "undetected", start, Folded{})
			return nil, err
		}
		for i, s := range steps {
			if s.Provider == provider {
				model = models[i]
				break
			}
		}
	}

	folded, err := Fold(provider, events)
	if err != nil {
		return nil, err
	}
	g.record(string(provider), strconv.Itoa(resp.StatusCode), start, folded)

	out := &Response{
		Text:     folded.Text,
		Provider: provider,
		Model:    model,
		EventID:  resp.Header.Get(g.eventIDHeader),
		Metadata: folded.Metadata(),

		InputTokens:  folded.InputTokens,
		OutputTokens: folded.OutputTokens,
	}
	if folded.Model != "" {
		out.Metadata = append([]string{"served model: " + folded.Model}, out.Metadata...)
	}

	g.logger.Info("relay request completed",
		"provider", out.Provider,
		"model", out.Model,
		"event_id", out.EventID,
		"events", len(events),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// attribute reads the relay's step tag. It holds either the index of the
// answering step or a provider name.
func (g *Gateway) attribute(h http.Header, steps []providers.Request, models []registry.ModelName) (registry.Provider, registry.ModelName) {
	if g.stepHeader == "" {
		return registry.Unknown, ""
	}
	tag := h.Get(g.stepHeader)
	if tag == "" {
		return registry.Unknown, ""
	}
	if i, err := strconv.Atoi(tag); err == nil {
		if i >= 0 && i < len(steps) {
			return steps[i].Provider, models[i]
		}
		return registry.Unknown, ""
	}
	p := registry.Provider(tag)
	for i, s := range steps {
		if s.Provider == p {
			return p, models[i]
		}
	}
	return registry.Unknown, ""
}

func (g *Gateway) redacted(steps []providers.Request) []providers.Request {
	out := make([]providers.Request, len(steps))
	for i, s := range steps {
		s.Headers = g.scanner.Headers(s.Headers)
		out[i] = s
	}
	return out
}

func (g *Gateway) record(provider, status string, start time.Time, f Folded) {
	g.metrics.RecordGatewayCall(telemetry.GatewayLabels{
		Provider:     provider,
		Status:       status,
		DurationMs:   float64(time.Since(start).Milliseconds()),
		InputTokens:  f.InputTokens,
		OutputTokens: f.OutputTokens,
	})
}
