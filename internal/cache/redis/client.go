package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/pkg/logger"
)

const (
	embeddingPrefix = "embedding:"
	pingTimeout     = 5 * time.Second
)

// Client stores raw artifact documents and verse embeddings.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr), zap.Int("db", db))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// get returns the value under key; a miss is (nil, false, nil).
func (c *Client) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *Client) GetArtifact(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := c.get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get artifact cache: %w", err)
	}
	if ok {
		logger.Debug("Artifact cache hit", zap.String("key", key), zap.Int("bytes", len(data)))
	}
	return data, ok, nil
}

func (c *Client) SetArtifact(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set artifact cache: %w", err)
	}
	logger.Debug("Artifact cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) DeleteArtifact(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete artifact cache: %w", err)
	}
	return nil
}

// SetEmbedding stores a vector under the hash of the model and verse text.
func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float64, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	if err := c.client.Set(ctx, embeddingPrefix+textHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float64, bool, error) {
	data, ok, err := c.get(ctx, embeddingPrefix+textHash)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var embedding []float64
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}
	return embedding, true, nil
}
