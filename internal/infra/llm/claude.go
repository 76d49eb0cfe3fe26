package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"prodscout/internal/config"
	"prodscout/internal/resilience/circuitbreaker"
	"prodscout/internal/resilience/retry"
	"prodscout/internal/usecase/organize"
)

// claudeMaxTokens bounds the response size for classification and
// transcript rewriting.
const claudeMaxTokens = 4096

// Claude implements the classifier and transcript optimizer using
// Anthropic's Claude API. Selected with [llm] provider = claude.
type Claude struct {
	client         anthropic.Client
	cfg            config.LLMConfig
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	logger         *slog.Logger
}

// NewClaude creates the Claude client from the [llm] section.
func NewClaude(cfg config.LLMConfig, logger *slog.Logger) *Claude {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger.Info("initialized claude llm client",
		slog.String("model", cfg.Model))

	return &Claude{
		client:         anthropic.NewClient(opts...),
		cfg:            cfg,
		circuitBreaker: circuitbreaker.New(circuitbreaker.LLMConfig()),
		retryConfig:    retry.LLMConfig(),
		logger:         logger,
	}
}

// Classify performs one classification call and decodes the structured
// response.
func (c *Claude) Classify(ctx context.Context, req organize.Request) (*organize.Classification, error) {
	answer, err := c.complete(ctx, buildClassifyPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseClassification(answer)
}

// OptimizeTranscript rewrites a raw ASR transcript into flowing prose,
// using contextText to correct misrecognized domain terms.
func (c *Claude) OptimizeTranscript(ctx context.Context, rawTranscript, contextText string) (string, error) {
	return c.complete(ctx, buildOptimizePrompt(rawTranscript, contextText))
}

// complete runs one message call through circuit breaker and retry.
func (c *Claude) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var result string

	retryErr := retry.WithBackoff(ctx, c.retryConfig, func() error {
		cbResult, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.doComplete(ctx, prompt)
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				c.logger.Warn("claude api circuit breaker open, request rejected",
					slog.String("service", "llm-api"),
					slog.String("state", c.circuitBreaker.State().String()))
				return fmt.Errorf("claude api unavailable: circuit breaker open")
			}
			return err
		}

		result = cbResult.(string)
		return nil
	})

	if retryErr != nil {
		return "", fmt.Errorf("claude completion failed after retries: %w", retryErr)
	}

	return result, nil
}

// doComplete performs the actual API call without retry or circuit breaker.
func (c *Claude) doComplete(ctx context.Context, prompt string) (string, error) {
	requestID := uuid.New().String()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: claudeMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		c.logger.Warn("claude api call failed",
			slog.String("request_id", requestID),
			slog.Any("error", err))
		return "", fmt.Errorf("claude api error: %w", err)
	}

	if len(message.Content) == 0 {
		return "", fmt.Errorf("claude api returned empty response")
	}

	textBlock, ok := message.Content[0].AsAny().(anthropic.TextBlock)
	if !ok {
		return "", fmt.Errorf("claude api returned unexpected response type")
	}

	return textBlock.Text, nil
}
