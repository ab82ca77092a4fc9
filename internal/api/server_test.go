package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	fastws "github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scripture-rag/backend/internal/api/handlers"
	"github.com/scripture-rag/backend/internal/artifacts"
	"github.com/scripture-rag/backend/internal/kg/builder"
	"github.com/scripture-rag/backend/internal/query"
	"github.com/scripture-rag/backend/internal/storage/models"
	"github.com/scripture-rag/backend/pkg/config"
)

type memoryLog struct {
	mu      sync.Mutex
	queries []models.RelatedQuery
}

func (m *memoryLog) InsertRelatedQuery(ctx context.Context, q *models.RelatedQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, *q)
	return nil
}

func (m *memoryLog) RecentRelatedQueries(ctx context.Context, limit int) ([]models.RelatedQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RelatedQuery, 0, limit)
	for i := len(m.queries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.queries[i])
	}
	return out, nil
}

type texts map[string]string

func (t texts) Text(id string) (string, bool) {
	s, ok := t[id]
	return s, ok
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		ReadTimeout:        5,
		WriteTimeout:       5,
		BodyLimit:          1 << 20,
		MaxLimit:           10,
		RateLimitPerMinute: 1000,
		Development:        true,
	}
}

func seededEngine(t *testing.T, initialize bool) *query.Engine {
	t.Helper()
	dir := t.TempDir()
	doc := builder.BuildDocument(builder.SeedReferences, builder.SeedClusters, builder.BuildInfo{ID: "test"})
	require.NoError(t, artifacts.WriteJSON(filepath.Join(dir, artifacts.CrossReferencesFile), doc))

	e := query.NewEngine(artifacts.NewFileLoader(dir), query.DefaultOptions())
	if initialize {
		require.NoError(t, e.Initialize(context.Background()))
	}
	return e
}

func newTestServer(t *testing.T, engine *query.Engine, log handlers.QueryLog) *Server {
	t.Helper()
	s := NewServer(serverConfig(), 5, Deps{
		Engine:   engine,
		QueryLog: log,
		Texts:    texts{"matthew_1_1": "The book of the generation of Jesus Christ, the son of David, the son of Abraham."},
	})
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func getJSON(t *testing.T, s *Server, target string, out interface{}) int {
	t.Helper()
	resp, err := s.App.Test(httptest.NewRequest("GET", target, nil))
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRelatedEndpoint(t *testing.T) {
	log := &memoryLog{}
	s := newTestServer(t, seededEngine(t, true), log)

	var body handlers.RelatedResponse
	status := getJSON(t, s, "/api/v1/verses/matthew_1_1/related?limit=3", &body)
	require.Equal(t, 200, status)

	assert.Equal(t, "matthew_1_1", body.VerseID)
	assert.Equal(t, "Matthew 1:1", body.Reference)
	assert.Equal(t, 3, body.Limit)
	require.Len(t, body.Results, 3)
	assert.Equal(t, "romans_1_3", body.Results[0].Verse)
	assert.Equal(t, 1.0, body.Results[0].Score)
	assert.Equal(t, "Romans 1:3", body.Results[0].Reference)
	assert.Equal(t, "Direct Quote", body.Results[0].TypeLabel)
	assert.Equal(t, query.SourceCrossReferences, body.Results[0].Source)
	assert.Equal(t, "luke_3_23", body.Results[1].Verse)
	assert.False(t, body.Cached)

	status = getJSON(t, s, "/api/v1/verses/matthew_1_1/related?limit=3", &body)
	require.Equal(t, 200, status)
	assert.True(t, body.Cached)

	var recent struct {
		Queries []map[string]interface{} `json:"queries"`
	}
	require.Equal(t, 200, getJSON(t, s, "/api/v1/queries/recent?limit=5", &recent))
	require.Len(t, recent.Queries, 2)
	assert.Equal(t, true, recent.Queries[0]["cached"])
	assert.Equal(t, "matthew_1_1", recent.Queries[0]["verse_id"])
}

func TestRelatedEndpointDefaultsAndErrors(t *testing.T) {
	s := newTestServer(t, seededEngine(t, true), nil)

	var body handlers.RelatedResponse
	require.Equal(t, 200, getJSON(t, s, "/api/v1/verses/matthew_1_1/related", &body))
	assert.Equal(t, 5, body.Limit)
	assert.Len(t, body.Results, 5)

	require.Equal(t, 200, getJSON(t, s, "/api/v1/verses/john_11_35/related", &body))
	assert.NotNil(t, body.Results)
	assert.Empty(t, body.Results)

	var errBody map[string]string
	assert.Equal(t, 400, getJSON(t, s, "/api/v1/verses/not-a-verse/related", &errBody))
	assert.Equal(t, 400, getJSON(t, s, "/api/v1/verses/matthew_1_1/related?limit=11", &errBody))
}

func TestRelatedEndpointNotReady(t *testing.T) {
	s := newTestServer(t, seededEngine(t, false), nil)

	var errBody map[string]string
	assert.Equal(t, 503, getJSON(t, s, "/api/v1/verses/matthew_1_1/related", &errBody))
	assert.Equal(t, 503, getJSON(t, s, "/api/v1/ready", nil))
	assert.Equal(t, 200, getJSON(t, s, "/api/v1/health", nil))
}

func TestVerseEndpoint(t *testing.T) {
	s := newTestServer(t, seededEngine(t, true), nil)

	var body map[string]interface{}
	require.Equal(t, 200, getJSON(t, s, "/api/v1/verses/matthew_1_1", &body))
	assert.Equal(t, "Matthew 1:1", body["reference"])
	assert.Equal(t, "Matthew", body["book_name"])
	assert.Equal(t, float64(1), body["chapter"])
	assert.Contains(t, body["text"], "son of David")

	body = nil
	require.Equal(t, 200, getJSON(t, s, "/api/v1/verses/1_corinthians_13_4", &body))
	assert.Equal(t, "1 Corinthians 13:4", body["reference"])
	_, hasText := body["text"]
	assert.False(t, hasText)

	var types struct {
		Types []map[string]interface{} `json:"types"`
	}
	require.Equal(t, 200, getJSON(t, s, "/api/v1/reference-types", &types))
	require.Len(t, types.Types, len(builder.ReferenceTypes))
	assert.Equal(t, "direct_quote", types.Types[0]["type"])
	assert.Equal(t, 1.0, types.Types[0]["weight"])
}

func TestAdminCache(t *testing.T) {
	e := seededEngine(t, true)
	s := newTestServer(t, e, nil)

	require.Equal(t, 200, getJSON(t, s, "/api/v1/verses/matthew_1_1/related", nil))
	assert.Equal(t, 1, e.Stats().CachedQueries)

	resp, err := s.App.Test(httptest.NewRequest("POST", "/api/v1/admin/cache/clear", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 0, e.Stats().CachedQueries)

	var status struct {
		Engine query.Stats `json:"engine"`
	}
	require.Equal(t, 200, getJSON(t, s, "/api/v1/admin/cache", &status))
	assert.True(t, status.Engine.Ready)
	assert.Equal(t, "none", status.Engine.SemanticSource)
}

func TestWebSocketRelated(t *testing.T) {
	s := newTestServer(t, seededEngine(t, true), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.App.Listener(ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	var conn *fastws.Conn
	require.Eventually(t, func() bool {
		conn, _, err = fastws.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "related", "verse_id": "matthew_1_1", "limit": 2}))
	var reply struct {
		Type string                   `json:"type"`
		Data handlers.RelatedResponse `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "related", reply.Type)
	require.Len(t, reply.Data.Results, 2)
	assert.Equal(t, "romans_1_3", reply.Data.Results[0].Verse)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "related", "verse_id": "bogus"}))
	var errReply map[string]string
	require.NoError(t, conn.ReadJSON(&errReply))
	assert.Equal(t, "error", errReply["type"])
	assert.Equal(t, "Invalid verse id", errReply["error"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "unknown"}))
	errReply = nil
	require.NoError(t, conn.ReadJSON(&errReply))
	assert.Equal(t, "Unsupported message type", errReply["error"])
}

func TestAdminRoutesAreRateLimited(t *testing.T) {
	cfg := serverConfig()
	cfg.RateLimitPerMinute = 1
	s := NewServer(cfg, 5, Deps{Engine: seededEngine(t, true)})
	t.Cleanup(func() { _ = s.Shutdown() })

	clearCache := func() int {
		r := httptest.NewRequest("POST", "/api/v1/admin/cache/clear", nil)
		r.Header.Set("X-Client-ID", "operator")
		resp, err := s.App.Test(r)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, 200, clearCache())
	assert.Equal(t, 429, clearCache())
	assert.Equal(t, 200, getJSON(t, s, "/api/v1/health", nil), "health checks are not limited")
}

func TestShutdownTwice(t *testing.T) {
	s := NewServer(serverConfig(), 5, Deps{Engine: seededEngine(t, true)})
	assert.NotPanics(t, func() {
		_ = s.Shutdown()
		_ = s.Shutdown()
	})
}
