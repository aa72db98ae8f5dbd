package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"oraculus-server/internal/domain"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

var log = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

// ErrGenerationFailed wraps every backend failure so callers can treat them
// uniformly and substitute a fallback node.
var ErrGenerationFailed = errors.New("node generation failed")

// systemPrompt instructs the model to continue the adventure with a single
// JSON object. Kept inline rather than in prompt files: this is the whole
// prompt surface of the engine.
const systemPrompt = `You are the narrator of a dynamic text adventure game.
Given the current situation, the protagonist and the choice they just made,
write the next story node.

Respond with a single JSON object and nothing else:
{"story": "<2-4 sentences continuing the story>",
 "choices": ["<choice 1>", "<choice 2>", "<choice 3>"]}

Choices must be distinct, 6-12 words each, advance the story meaningfully and
reflect the protagonist's background (bold, cautious and creative approaches).`

// NodeRequest carries everything the model needs to continue the story.
type NodeRequest struct {
	Protagonist  domain.Protagonist    `json:"protagonist"`
	CurrentStory string                `json:"current_story"`
	ChoiceText   string                `json:"chosen_option"`
	History      []domain.HistoryEntry `json:"history,omitempty"`
}

// NodeResult is the parsed model output for one story node.
type NodeResult struct {
	Story   string   `json:"story"`
	Choices []string `json:"choices"`
}

// Generator produces story nodes from an LLM backend.
type Generator interface {
	GenerateNode(ctx context.Context, req NodeRequest) (NodeResult, error)
}

// Config holds generator settings. Backend selects the implementation:
// "openai" (any OpenAI-compatible endpoint, e.g. OpenRouter) or "ollama".
type Config struct {
	Backend    string
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// New creates the generator for the configured backend.
func New(cfg Config) (Generator, error) {
	if cfg.Model == "" {
		return nil, errors.New("AI model name is not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	switch cfg.Backend {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("AI API key is not set")
		}
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		log.Info().Str("baseURL", clientCfg.BaseURL).Str("model", cfg.Model).Msg("using OpenAI-compatible AI backend")
		return &openAIGenerator{
			client:     openai.NewClientWithConfig(clientCfg),
			model:      cfg.Model,
			timeout:    cfg.Timeout,
			maxRetries: cfg.MaxRetries,
		}, nil
	case "ollama":
		return newOllamaGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown AI backend %q", cfg.Backend)
	}
}

// openAIGenerator implements Generator over go-openai.
type openAIGenerator struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
}

func (g *openAIGenerator) GenerateNode(ctx context.Context, req NodeRequest) (NodeResult, error) {
	userPrompt, err := buildUserPrompt(req)
	if err != nil {
		return NodeResult{}, err
	}
	observePromptTokens(g.model, systemPrompt+userPrompt)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		start := time.Now()
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0.8,
			MaxTokens:   600,
			TopP:        0.95,
		})
		duration := time.Since(start)

		if err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("AI request failed")
			aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error"}).Inc()
			lastErr = err
			sleepBackoff(ctx, attempt)
			continue
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			log.Warn().Int("attempt", attempt).Msg("empty AI response")
			aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error_empty_response"}).Inc()
			lastErr = errors.New("empty response")
			sleepBackoff(ctx, attempt)
			continue
		}

		aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "success"}).Inc()
		aiRequestDuration.With(prometheus.Labels{"model": g.model}).Observe(duration.Seconds())
		if resp.Usage.TotalTokens > 0 {
			aiCompletionTokens.With(prometheus.Labels{"model": g.model}).Observe(float64(resp.Usage.CompletionTokens))
		}

		result, err := ParseNodeResponse(resp.Choices[0].Message.Content)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("AI response failed to parse, retrying")
			aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error_parse"}).Inc()
			lastErr = err
			sleepBackoff(ctx, attempt)
			continue
		}
		return result, nil
	}

	return NodeResult{}, fmt.Errorf("%w after %d attempts: %v", ErrGenerationFailed, g.maxRetries, lastErr)
}

// buildUserPrompt serializes the request as indented JSON, the same shape the
// model sees during prompt iteration.
func buildUserPrompt(req NodeRequest) (string, error) {
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize node request: %w", err)
	}
	return string(data), nil
}

// observePromptTokens records the prompt size. Token counting is best effort:
// non-OpenAI model names fall back to the cl100k_base encoding.
func observePromptTokens(model, prompt string) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return
		}
	}
	aiPromptTokens.With(prometheus.Labels{"model": model}).Observe(float64(len(enc.Encode(prompt, nil, nil))))
}

func sleepBackoff(ctx context.Context, attempt int) {
	select {
	case <-time.After(time.Duration(attempt) * time.Second):
	case <-ctx.Done():
	}
}

// stripFences removes a markdown code fence around a model response, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
