package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/pkg/circuitbreaker"
	"github.com/scripture-rag/backend/pkg/logger"
	"github.com/scripture-rag/backend/pkg/retry"
)

// Client requests verse embeddings from an OpenAI compatible API.
type Client struct {
	client         *openai.Client
	embeddingModel string
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

// NewClient builds a client. baseURL may be empty for the public API.
func NewClient(apiKey, baseURL, embeddingModel string, timeout time.Duration) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized", zap.String("embedding_model", embeddingModel))

	return &Client{
		client:         openai.NewClientWithConfig(cfg),
		embeddingModel: embeddingModel,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Model() string {
	return c.embeddingModel
}

// EmbedBatch embeds texts in one request, returning vectors in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embeddings [][]float64

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: texts,
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)
			if err != nil {
				err = fmt.Errorf("failed to generate batch embeddings: %w", err)
				if !retryable(err) {
					return retry.Permanent(err)
				}
				return err
			}

			if len(resp.Data) != len(texts) {
				return retry.Permanent(fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts)))
			}

			data := resp.Data
			sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

			embeddings = make([][]float64, len(data))
			for i, d := range data {
				vec := make([]float64, len(d.Embedding))
				for j, v := range d.Embedding {
					vec[j] = float64(v)
				}
				embeddings[i] = vec
			}

			logger.Debug("Batch embeddings generated",
				zap.Int("count", len(embeddings)),
				zap.Int("total_tokens", resp.Usage.TotalTokens),
			)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return embeddings, nil
}

// retryable reports whether the API failure is worth another attempt: rate
// limits, server errors and transport failures.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}
