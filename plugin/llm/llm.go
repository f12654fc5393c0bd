// Package llm wraps a langchaingo chat model with per-call timeouts and retries.
package llm

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/incometax/taxbot/internal/profile"
	"github.com/incometax/taxbot/internal/util"
)

// ErrModelUnavailable is returned when the chat model could not produce a response.
var ErrModelUnavailable = errors.New("chat model unavailable")

// StreamFunc receives generated text as it arrives.
type StreamFunc func(ctx context.Context, chunk string) error

type Client struct {
	model       llms.Model
	policy      util.RetryPolicy
	temperature float64
	logger      zerolog.Logger
}

// NewOpenAI connects to an OpenAI compatible chat endpoint.
func NewOpenAI(p *profile.Profile, logger zerolog.Logger) (*Client, error) {
	model, err := NewOpenAIModel(p)
	if err != nil {
		return nil, err
	}
	return New(model, PolicyFromProfile(p), p.Temperature, logger), nil
}

// NewOpenAIModel builds the langchaingo OpenAI model for chat and embeddings.
func NewOpenAIModel(p *profile.Profile) (*openai.LLM, error) {
	if err := p.RequireOpenAI(); err != nil {
		return nil, err
	}
	opts := []openai.Option{
		openai.WithToken(p.OpenAIAPIKey),
		openai.WithModel(p.ChatModel),
		openai.WithEmbeddingModel(p.EmbeddingModel),
	}
	if p.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.OpenAIBaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create openai client")
	}
	return model, nil
}

func PolicyFromProfile(p *profile.Profile) util.RetryPolicy {
	return util.RetryPolicy{
		Attempts: p.RetryAttempts,
		Delay:    p.RetryDelay,
		Timeout:  p.RequestTimeout,
	}
}

func New(model llms.Model, policy util.RetryPolicy, temperature float64, logger zerolog.Logger) *Client {
	return &Client{
		model:       model,
		policy:      policy,
		temperature: temperature,
		logger:      logger,
	}
}

// Generate returns the full completion for the messages.
func (c *Client) Generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	var content string
	err := util.Retry(ctx, c.policy, c.logger, nil, func(ctx context.Context) error {
		resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty response from model")
		}
		content = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return content, nil
}

// Stream generates a completion and hands each chunk to fn. A failed attempt
// is retried only while nothing has been handed to fn yet.
func (c *Client) Stream(ctx context.Context, messages []llms.MessageContent, fn StreamFunc) error {
	emitted := false
	var fnErr error
	err := util.Retry(ctx, c.policy, c.logger,
		func(error) bool { return !emitted && fnErr == nil },
		func(ctx context.Context) error {
			_, err := c.model.GenerateContent(ctx, messages,
				llms.WithTemperature(c.temperature),
				llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
					if len(chunk) == 0 {
						return nil
					}
					emitted = true
					if err := fn(ctx, string(chunk)); err != nil {
						fnErr = err
						return err
					}
					return nil
				}),
			)
			return err
		})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return nil
}
