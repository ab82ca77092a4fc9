package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scripture-rag/backend/pkg/circuitbreaker"
	"github.com/scripture-rag/backend/pkg/logger"
	"github.com/scripture-rag/backend/pkg/retry"
	"github.com/scripture-rag/backend/pkg/utils"
)

// Cache is the persistent key-value store used to avoid refetching
// already-built artifacts.
type Cache interface {
	GetArtifact(ctx context.Context, key string) ([]byte, bool, error)
	SetArtifact(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteArtifact(ctx context.Context, key string) error
}

// HTTPLoader fetches the tables from a static origin, e.g. the /data path of
// the reader web app, caching the raw documents.
type HTTPLoader struct {
	baseURL     string
	httpClient  *http.Client
	cache       Cache
	ttl         time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type HTTPOption func(*HTTPLoader)

func WithCache(cache Cache, ttl time.Duration) HTTPOption {
	return func(l *HTTPLoader) {
		l.cache = cache
		l.ttl = ttl
	}
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(l *HTTPLoader) { l.httpClient = client }
}

func WithRetryConfig(cfg retry.Config) HTTPOption {
	return func(l *HTTPLoader) { l.retryConfig = cfg }
}

func NewHTTPLoader(baseURL string, opts ...HTTPOption) *HTTPLoader {
	l := &HTTPLoader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ttl:        24 * time.Hour,
		cb: circuitbreaker.New("artifact-origin", circuitbreaker.Config{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   250 * time.Millisecond,
			MaxDelay:       3 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *HTTPLoader) url(name string) string {
	return l.baseURL + "/" + name
}

func cacheKey(url string) string {
	return "artifact:" + utils.HashString(url)
}

// fetch returns the raw document, consulting the cache first. decode is run
// before caching so malformed payloads are never stored.
func (l *HTTPLoader) fetch(ctx context.Context, name string, decode func([]byte) error) error {
	url := l.url(name)
	key := cacheKey(url)

	if l.cache != nil {
		data, ok, err := l.cache.GetArtifact(ctx, key)
		if err != nil {
			logger.Warn("Artifact cache read failed", zap.String("url", url), zap.Error(err))
		} else if ok {
			if err := decode(data); err == nil {
				logger.Debug("Using cached artifact", zap.String("url", url))
				return nil
			}
			logger.Warn("Cached artifact is malformed, refetching", zap.String("url", url))
			_ = l.cache.DeleteArtifact(ctx, key)
		}
	}

	var data []byte
	var missing error
	err := l.cb.Execute(ctx, func() error {
		var err error
		data, err = retry.DoWithResult(ctx, l.retryConfig, func() ([]byte, error) {
			return l.get(ctx, url)
		})
		// a missing artifact means the origin is healthy
		if errors.Is(err, ErrNotFound) {
			missing = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	if missing != nil {
		return missing
	}

	if err := decode(data); err != nil {
		return err
	}

	if l.cache != nil {
		if err := l.cache.SetArtifact(ctx, key, data, l.ttl); err != nil {
			logger.Warn("Artifact cache write failed", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}

func (l *HTTPLoader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	logger.Info("Fetching artifact", zap.String("url", url))
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrNotFound, url))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("failed to fetch %s: HTTP %d", url, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Permanent(fmt.Errorf("failed to fetch %s: HTTP %d", url, resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return data, nil
}

func (l *HTTPLoader) LoadCrossReferences(ctx context.Context) (*CrossReferenceDocument, error) {
	var doc *CrossReferenceDocument
	err := l.fetch(ctx, CrossReferencesFile, func(data []byte) error {
		var err error
		doc, err = DecodeCrossReferences(data)
		return err
	})
	return doc, err
}

func (l *HTTPLoader) LoadSimilarities(ctx context.Context) (*SimilarityDocument, error) {
	var doc *SimilarityDocument
	err := l.fetch(ctx, SimilarityFile, func(data []byte) error {
		var err error
		doc, err = DecodeSimilarities(data)
		return err
	})
	return doc, err
}

func (l *HTTPLoader) LoadEmbeddings(ctx context.Context) (*EmbeddingStore, error) {
	var store *EmbeddingStore
	err := l.fetch(ctx, EmbeddingsFile, func(data []byte) error {
		var err error
		store, err = DecodeEmbeddings(data)
		return err
	})
	return store, err
}

var artifactNames = []string{CrossReferencesFile, SimilarityFile, EmbeddingsFile}

// ClearCache drops every cached artifact.
func (l *HTTPLoader) ClearCache(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}
	for _, name := range artifactNames {
		if err := l.cache.DeleteArtifact(ctx, cacheKey(l.url(name))); err != nil {
			return fmt.Errorf("failed to clear cache for %s: %w", name, err)
		}
	}
	logger.Info("Artifact cache cleared")
	return nil
}

// CacheStatus reports "cached" or "not_cached" per artifact.
func (l *HTTPLoader) CacheStatus(ctx context.Context) map[string]string {
	status := make(map[string]string, len(artifactNames))
	for _, name := range artifactNames {
		status[name] = "not_cached"
		if l.cache == nil {
			continue
		}
		if _, ok, err := l.cache.GetArtifact(ctx, cacheKey(l.url(name))); err == nil && ok {
			status[name] = "cached"
		}
	}
	return status
}
