package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"mezada/internal/domain"
)

const historyPlaceholder = "{{history}}"

// Groq implements domain.Generator against an OpenAI-compatible chat
// completions API. Groq is the default endpoint but any compatible base URL works.
type Groq struct {
	client   openai.Client
	model    string
	template string
	timeout  time.Duration
	logger   *slog.Logger
}

type GroqConfig struct {
	APIKey         string
	APIBase        string
	Model          string
	PromptTemplate string // must contain {{history}}
	Timeout        time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

func NewGroq(cfg GroqConfig) *Groq {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.3-70b-versatile"
	}
	if cfg.PromptTemplate == "" {
		cfg.PromptTemplate = historyPlaceholder
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Retries are handled by Retrying, so the SDK retry loop stays off.
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.APIBase),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	)
	return &Groq{
		client:   client,
		model:    cfg.Model,
		template: cfg.PromptTemplate,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

func (g *Groq) Name() string  { return "groq" }
func (g *Groq) Model() string { return g.model }

// Prompt renders the template around the user's story.
func (g *Groq) Prompt(history string) string {
	return strings.ReplaceAll(g.template, historyPlaceholder, history)
}

// Generate asks the model for advice on the user's story. Every failure,
// including a timeout or an empty completion, wraps domain.ErrGeneration.
func (g *Groq) Generate(ctx context.Context, history string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.Prompt(history)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", domain.ErrGeneration, g.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices: %w", domain.ErrGeneration, g.model, errEmptyCompletion)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: %s returned empty content: %w", domain.ErrGeneration, g.model, errEmptyCompletion)
	}

	g.logger.Debug("generation complete",
		"model", g.model,
		"latency_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return content, nil
}

// Healthy checks that the endpoint is reachable and the key is accepted.
func (g *Groq) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := g.client.Models.List(ctx); err != nil {
		return fmt.Errorf("groq not reachable: %w", err)
	}
	return nil
}
