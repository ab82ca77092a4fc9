package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRefills(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()

	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	ok, _ := rl.allow("a")
	assert.True(t, ok)
	ok, _ = rl.allow("a")
	assert.True(t, ok)
	ok, wait := rl.allow("a")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	ok, _ = rl.allow("b")
	assert.True(t, ok, "buckets are per key")

	now = now.Add(30 * time.Second)
	ok, _ = rl.allow("a")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	rl.sweep(time.Second)
	assert.Empty(t, rl.buckets)
}

func TestMiddleware(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1})
	defer rl.Stop()

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := func(client string) int {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Client-ID", client)
		resp, err := app.Test(r)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, 200, req("one"))
	assert.Equal(t, 429, req("one"))
	assert.Equal(t, 200, req("two"))
}

func TestMiddlewareKeysSurviveBufferReuse(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1})
	defer rl.Stop()

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := func(client string) int {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Client-ID", client)
		resp, err := app.Test(r)
		require.NoError(t, err)
		return resp.StatusCode
	}

	// Same-length ids land in the same reused header bytes.
	assert.Equal(t, 200, req("alice"))
	assert.Equal(t, 200, req("bobby"))
	assert.Equal(t, 429, req("alice"))

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Len(t, rl.buckets, 2)
	assert.Contains(t, rl.buckets, "alice")
	assert.Contains(t, rl.buckets, "bobby")
}

func TestStopTwice(t *testing.T) {
	rl := New(Config{})
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}
