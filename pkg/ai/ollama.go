package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
)

// ollamaGenerator implements Generator over the native ollama API, for
// running local models without an API key.
type ollamaGenerator struct {
	client     *api.Client
	model      string
	timeout    time.Duration
	maxRetries int
}

func newOllamaGenerator(cfg Config) (Generator, error) {
	// api.NewClient wants the host URL without the /v1 suffix.
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/v1")
	baseURL = strings.TrimSuffix(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", baseURL, err)
	}

	log.Info().Str("baseURL", baseURL).Str("model", cfg.Model).Msg("using ollama AI backend")
	return &ollamaGenerator{
		client:     api.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
	}, nil
}

func (g *ollamaGenerator) GenerateNode(ctx context.Context, req NodeRequest) (NodeResult, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return NodeResult{}, err
	}
	observePromptTokens(g.model, systemPrompt+userPrompt)

	stream := false
	chatReq := &api.ChatRequest{
		Model: g.model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream: &stream,
		Options: map[string]interface{}{
			"temperature": 0.8,
			"top_p":       0.95,
		},
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		requestCtx, cancel := context.WithTimeout(ctx, g.timeout)

		start := time.Now()
		var resp api.ChatResponse
		err := g.client.Chat(requestCtx, chatReq, func(r api.ChatResponse) error {
			resp = r
			return nil
		})
		duration := time.Since(start)
		cancel()

		if err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("ollama request failed")
			aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error"}).Inc()
			lastErr = err
			sleepBackoff(ctx, attempt)
			continue
		}
		if resp.Message.Content == "" {
			log.Warn().Int("attempt", attempt).Msg("empty ollama response")
			aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error_empty_response"}).Inc()
			lastErr = fmt.Errorf("empty response")
			sleepBackoff(ctx, attempt)
			continue
		}

		aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "success"}).Inc()
		aiRequestDuration.With(prometheus.Labels{"model": g.model}).Observe(duration.Seconds())

		result, err := ParseNodeResponse(resp.Message.Content)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("ollama response failed to parse, retrying")
			aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error_parse"}).Inc()
			lastErr = err
			sleepBackoff(ctx, attempt)
			continue
		}
		return result, nil
	}

	return NodeResult{}, fmt.Errorf("%w after %d attempts: %v", ErrGenerationFailed, g.maxRetries, lastErr)
}
