package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"prodscout/internal/config"
	"prodscout/internal/resilience/circuitbreaker"
	"prodscout/internal/resilience/retry"
	"prodscout/internal/usecase/organize"
)

// OpenAI implements the classifier and transcript optimizer against any
// OpenAI-compatible chat completion endpoint. The [llm] base_url option
// points it at self-hosted gateways.
type OpenAI struct {
	client         *openai.Client
	cfg            config.LLMConfig
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	logger         *slog.Logger
}

// NewOpenAI creates the OpenAI-compatible client from the [llm] section.
func NewOpenAI(cfg config.LLMConfig, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger.Info("initialized openai-compatible llm client",
		slog.String("model", cfg.Model),
		slog.String("base_url", clientCfg.BaseURL))

	return &OpenAI{
		client:         openai.NewClientWithConfig(clientCfg),
		cfg:            cfg,
		circuitBreaker: circuitbreaker.New(circuitbreaker.LLMConfig()),
		retryConfig:    retry.LLMConfig(),
		logger:         logger,
	}
}

// Classify performs one classification call and decodes the structured
// response.
func (o *OpenAI) Classify(ctx context.Context, req organize.Request) (*organize.Classification, error) {
	answer, err := o.complete(ctx, buildClassifyPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseClassification(answer)
}

// OptimizeTranscript rewrites a raw ASR transcript into flowing prose,
// using contextText to correct misrecognized domain terms.
func (o *OpenAI) OptimizeTranscript(ctx context.Context, rawTranscript, contextText string) (string, error) {
	return o.complete(ctx, buildOptimizePrompt(rawTranscript, contextText))
}

// complete runs one chat completion through circuit breaker and retry.
func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	var result string

	retryErr := retry.WithBackoff(ctx, o.retryConfig, func() error {
		cbResult, err := o.circuitBreaker.Execute(func() (interface{}, error) {
			return o.doComplete(ctx, prompt)
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				o.logger.Warn("llm api circuit breaker open, request rejected",
					slog.String("service", "llm-api"),
					slog.String("state", o.circuitBreaker.State().String()))
				return fmt.Errorf("llm api unavailable: circuit breaker open")
			}
			return err
		}

		result = cbResult.(string)
		return nil
	})

	if retryErr != nil {
		return "", fmt.Errorf("llm completion failed after retries: %w", retryErr)
	}

	return result, nil
}

// doComplete performs the actual API call without retry or circuit breaker.
func (o *OpenAI) doComplete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
