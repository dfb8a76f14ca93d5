package gin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/lowc1012/superlimiter/pkg/ratelimiter"
	"github.com/lowc1012/superlimiter/pkg/store"
	"github.com/lowc1012/superlimiter/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLimiter(t *testing.T, opts ...ratelimiter.Option) (*miniredis.Miniredis, *ratelimiter.Limiter) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	s, err := store.NewRedis(client)
	require.NoError(t, err)
	opts = append([]ratelimiter.Option{ratelimiter.WithLogger(zap.NewNop())}, opts...)
	l, err := ratelimiter.New(s, opts...)
	require.NoError(t, err)
	return server, l
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(mw)
	router.GET("/*path", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRateLimiter_DefaultsToClientIP(t *testing.T) {
	_, l := newLimiter(t, ratelimiter.WithMax(1))
	router := newRouter(RateLimiter(l, WithLogger(zap.NewNop())))

	request := func(remoteAddr string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/x", nil)
		r.RemoteAddr = remoteAddr
		router.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, http.StatusOK, request("10.0.0.1:1111").Code)
	assert.Equal(t, http.StatusTooManyRequests, request("10.0.0.1:2222").Code)
	assert.Equal(t, http.StatusOK, request("10.0.0.2:1111").Code)

	keys, err := l.Keys(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, keys)
}

func TestRateLimiter_LimitsByContextHash(t *testing.T) {
	_, l := newLimiter(t,
		ratelimiter.WithTTL(3*time.Second),
		ratelimiter.WithMax(2),
		ratelimiter.WithHash(func(args ...any) string {
			c := args[0].(*gin.Context)
			if c.Request.URL.Path == "/no-limit" {
				return ""
			}
			return c.Request.URL.Path
		}),
	)
	router := newRouter(RateLimiter(l, WithLimiterHash(), WithLogger(zap.NewNop())))

	for i := 0; i < 5; i++ {
		rec := get(router, "/no-limit")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Ratelimit-Count"))
	}

	assert.Equal(t, http.StatusOK, get(router, "/user").Code)
	rec := get(router, "/user")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Ratelimit-Count"))

	rec = get(router, "/user")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, ratelimiter.ErrLimitExceeded.Error(), body["message"])

	assert.Equal(t, http.StatusOK, get(router, "/users").Code)
}

func TestRateLimiter_ErrorReachesGinErrors(t *testing.T) {
	_, l := newLimiter(t, ratelimiter.WithMax(0))

	var recorded []error
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Next()
		for _, e := range c.Errors {
			recorded = append(recorded, e.Err)
		}
	})
	router.Use(RateLimiter(l, WithExtractor(utils.NewPathExtractor()), WithLogger(zap.NewNop())))
	router.GET("/x", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := get(router, "/x")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Len(t, recorded, 1)
	assert.ErrorIs(t, recorded[0], ratelimiter.ErrLimitExceeded)
}

func TestRateLimiter_ExtractorError(t *testing.T) {
	_, l := newLimiter(t)
	router := newRouter(RateLimiter(l,
		WithExtractor(utils.NewHTTPHeadersExtractor("X-Api-Key")),
		WithLogger(zap.NewNop()),
	))

	assert.Equal(t, http.StatusBadRequest, get(router, "/").Code)
}

func TestRateLimiter_CustomErrorHandler(t *testing.T) {
	_, l := newLimiter(t, ratelimiter.WithMax(0))
	router := newRouter(RateLimiter(l,
		WithExtractor(utils.NewPathExtractor()),
		WithErrorHandler(func(c *gin.Context, err error) {
			c.AbortWithStatus(http.StatusServiceUnavailable)
		}),
	))

	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/x").Code)
}
