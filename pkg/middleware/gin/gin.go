// Package gin plugs a ratelimiter.Limiter into gin.
package gin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lowc1012/superlimiter/internal/log"
	"github.com/lowc1012/superlimiter/pkg/ratelimiter"
	"github.com/lowc1012/superlimiter/pkg/utils"
	"go.uber.org/zap"
)

// ErrorHandler handles a request the limiter rejected or failed on. It must abort c.
type ErrorHandler func(c *gin.Context, err error)

type Config struct {
	// Extractor derives the bucket from c.Request. It defaults to the client IP; when
	// nil the limiter's own hash is applied to the *gin.Context.
	Extractor    utils.Extractor
	ErrorHandler ErrorHandler
	Logger       *zap.Logger
}

type Option func(*Config)

func WithExtractor(e utils.Extractor) Option {
	return func(c *Config) {
		c.Extractor = e
	}
}

// WithLimiterHash keys requests with the limiter's own hash instead of an extractor.
// The hash receives the *gin.Context and must return a stable identifier.
func WithLimiterHash() Option {
	return func(c *Config) {
		c.Extractor = nil
	}
}

func WithErrorHandler(f ErrorHandler) Option {
	return func(c *Config) {
		if f != nil {
			c.ErrorHandler = f
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// RateLimiter creates a gin middleware limiting requests with l.
//
// Rejections are recorded with c.Error, so gin error middleware sees the limiter's
// configured error, and answered with 429. Store failures are answered with 500.
//
//	router := gin.New()
//	router.Use(ginlimiter.RateLimiter(l, ginlimiter.WithExtractor(utils.NewHTTPHeadersExtractor("X-Api-Key"))))
func RateLimiter(l *ratelimiter.Limiter, options ...Option) gin.HandlerFunc {
	cfg := &Config{
		Extractor: utils.NewRemoteAddrExtractor(),
		Logger:    log.Logger(),
		ErrorHandler: func(c *gin.Context, err error) {
			status := http.StatusInternalServerError
			if errors.Is(err, l.LimitError()) {
				status = http.StatusTooManyRequests
			}
			c.AbortWithStatusJSON(status, gin.H{"message": err.Error()})
		},
	}
	for _, opt := range options {
		opt(cfg)
	}

	return func(c *gin.Context) {
		var (
			count int64
			err   error
		)
		if cfg.Extractor != nil {
			key, exErr := cfg.Extractor.Extract(c.Request)
			if exErr != nil {
				cfg.Logger.Error("Failed to extract key", zap.Error(exErr))
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": exErr.Error()})
				return
			}
			count, err = l.ExecWith(c.Request.Context(), func(...any) string { return key }, c)
		} else {
			count, err = l.Exec(c.Request.Context(), c)
		}

		if count == 0 && err == nil {
			c.Next()
			return
		}

		if count > 0 {
			c.Header("X-Ratelimit-Max-Requests", strconv.FormatInt(l.Max(), 10))
			c.Header("X-Ratelimit-Count", strconv.FormatInt(count, 10))
		}

		if err != nil {
			cfg.Logger.Debug("Request rejected by rate limiter", zap.String("path", c.FullPath()), zap.Error(err))
			_ = c.Error(err)
			cfg.ErrorHandler(c, err)
			return
		}

		c.Next()
	}
}
