package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classmaster/internal/logging"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestTokenBucketRefills(t *testing.T) {
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "10.0.0.1")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "keys are independent")

	clock = clock.Add(time.Second)
	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok)
}

func TestFallbackUsesSecondaryOnError(t *testing.T) {
	secondary := NewSimpleTokenBucket(1, 1)
	f := NewFallback(brokenLimiter{}, secondary, logging.Discard())

	ok, err := f.Allow(context.Background(), "ip")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = f.Allow(context.Background(), "ip")
	assert.False(t, ok)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serve := func(l Limiter, n int) []int {
		r := gin.New()
		r.Use(GinMiddleware(l))
		r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
		var codes []int
		for i := 0; i < n; i++ {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
			codes = append(codes, w.Code)
		}
		return codes
	}

	assert.Equal(t, []int{200, 200, 429}, serve(NewSimpleTokenBucket(2, 1), 3))
	assert.Equal(t, []int{200, 200}, serve(brokenLimiter{}, 2))
}
