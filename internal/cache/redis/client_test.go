package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a live server when SCRIPTURE_RAG_TEST_REDIS=host:port is set.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("SCRIPTURE_RAG_TEST_REDIS")
	if addr == "" {
		t.Skip("SCRIPTURE_RAG_TEST_REDIS not set")
	}

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := NewClient(host, port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestArtifactCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "artifact:test-" + uuid.New().String()

	_, ok, err := c.GetArtifact(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetArtifact(ctx, key, []byte(`{"a":1}`), time.Minute))
	data, ok, err := c.GetArtifact(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(data))

	require.NoError(t, c.DeleteArtifact(ctx, key))
	_, ok, err = c.GetArtifact(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmbeddingCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	hash := "test-" + uuid.New().String()

	require.NoError(t, c.SetEmbedding(ctx, hash, []float64{0.6, 0.8}, time.Minute))
	vec, ok, err := c.GetEmbedding(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float64{0.6, 0.8}, vec)
}
