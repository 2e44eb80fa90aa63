package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sashabaranov/go-openai"

	"daily-goods-assistant/config"
	"daily-goods-assistant/logging"
	"daily-goods-assistant/metrics"
)

// Client wraps the OpenAI API for the two calls this project makes, with an explicit timeout and retry policy.
type Client struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	dimensions     int
	retryOptions   []retry.Option
	logger         *slog.Logger
}

func NewClient(cfg config.OpenAIConfig, logger *slog.Logger) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	c := &Client{
		client:         openai.NewClientWithConfig(clientConfig),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.EmbeddingDimensions,
		logger:         logging.For(logger, "openai"),
	}
	c.retryOptions = []retry.Option{
		retry.Attempts(cfg.Retry.Attempts),
		retry.Delay(cfg.Retry.Delay),
		retry.MaxDelay(cfg.Retry.MaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && isRetryable(err)
		}),
	}
	return c
}

// Complete sends the conversation and returns the content of the first choice.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	var reply string
	err := c.do(ctx, metrics.DependencyChat, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    c.chatModel,
			Messages: messages,
			N:        1,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return retry.Unrecoverable(errors.New("chat completion returned no choices"))
		}
		reply = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate a chat completion: %w", err)
	}
	return reply, nil
}

// Embed returns the embedding of a single text. The vector length is checked against the configured dimensions.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := c.do(ctx, metrics.DependencyEmbedding, func() error {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input:      []string{text},
			Model:      openai.EmbeddingModel(c.embeddingModel),
			Dimensions: c.dimensions,
		})
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return retry.Unrecoverable(errors.New("embedding response contained no data"))
		}
		if got := len(resp.Data[0].Embedding); got != c.dimensions {
			return retry.Unrecoverable(fmt.Errorf("embedding has %d dimensions, expected %d", got, c.dimensions))
		}
		vector = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	return vector, nil
}

func (c *Client) do(ctx context.Context, dependency string, call func() error) error {
	start := time.Now()
	options := append([]retry.Option{
		retry.Context(ctx),
		retry.OnRetry(func(attempt uint, err error) {
			c.logger.WarnContext(ctx, "retrying openai call", slog.String("call", dependency), slog.Uint64("attempt", uint64(attempt+1)), slog.Any("error", err))
		}),
	}, c.retryOptions...)

	err := retry.Do(call, options...)
	metrics.ObserveDependency(dependency, start, err)
	return err
}

// isRetryable reports whether a failed call may succeed when repeated: rate limits, server errors and transport
// failures are, client errors are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
