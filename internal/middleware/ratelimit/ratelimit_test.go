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
	rl := New(Config{RequestsPerMinute: 60, Burst: 2})
	defer rl.Stop()

	clock := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.allow("u1"))
	assert.True(t, rl.allow("u1"))
	assert.False(t, rl.allow("u1"))
	assert.True(t, rl.allow("u2"))

	clock = clock.Add(time.Second)
	assert.True(t, rl.allow("u1"))
	assert.False(t, rl.allow("u1"))
}

func TestMiddlewareRejects(t *testing.T) {
	rl := New(Config{RequestsPerMinute: 1, Burst: 1})
	defer rl.Stop()

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}
