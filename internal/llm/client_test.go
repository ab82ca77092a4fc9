package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func embeddingServer(t *testing.T, status *int32, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if code := atomic.LoadInt32(status); code != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(int(code))
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// answer in reverse index order to check reordering
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
}

func TestEmbedBatch(t *testing.T) {
	status := int32(http.StatusOK)
	var calls int32
	srv := embeddingServer(t, &status, &calls)
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1", "text-embedding-3-small", 5*time.Second)
	assert.Equal(t, "text-embedding-3-small", c.Model())

	vecs, err := c.EmbedBatch(context.Background(), []string{"In the beginning", "was the Word", "and the Word was with God"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1}, {1, 1}, {2, 1}}, vecs)

	empty, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestEmbedBatchClientErrorIsNotRetried(t *testing.T) {
	status := int32(http.StatusBadRequest)
	var calls int32
	srv := embeddingServer(t, &status, &calls)
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/v1", "text-embedding-3-small", 5*time.Second)
	_, err := c.EmbedBatch(context.Background(), []string{"Jesus wept."})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
