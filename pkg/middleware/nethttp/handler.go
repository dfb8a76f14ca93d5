// Package nethttp plugs a ratelimiter.Limiter into net/http.
package nethttp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/lowc1012/superlimiter/internal/log"
	"github.com/lowc1012/superlimiter/pkg/ratelimiter"
	"github.com/lowc1012/superlimiter/pkg/utils"
	"go.uber.org/zap"
)

const (
	rateLimitMaxRequests = "X-Ratelimit-Max-Requests"
	rateLimitCount       = "X-Ratelimit-Count"
	rateLimitState       = "X-Ratelimit-State"
)

// ErrorHandler writes the response for a request the limiter rejected or failed on.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Config defines the configuration for the rate limiter handler.
type Config struct {
	// Extractor derives the bucket from the request. It defaults to the client IP; when
	// nil the limiter's own hash is applied to the *http.Request.
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
// The hash receives the *http.Request and must return a stable identifier.
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

type httpRateLimiterHandler struct {
	handler http.Handler
	limiter *ratelimiter.Limiter
	config  *Config
}

// Middleware returns a net/http middleware limiting requests with l.
//
//	mux := http.NewServeMux()
//	http.ListenAndServe(":8080", nethttp.Middleware(l)(mux))
func Middleware(l *ratelimiter.Limiter, options ...Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewHTTPRateLimiterHandler(next, l, options...)
	}
}

// NewHTTPRateLimiterHandler wraps an existing http.Handler object performing rate limiting before
// sending the request to the wrapped handler. If any errors happen while trying to rate limit a request
// or if the request is denied, the error handler writes the response and the wrapped handler is not called.
func NewHTTPRateLimiterHandler(originalHandler http.Handler, l *ratelimiter.Limiter, options ...Option) http.Handler {
	cfg := &Config{
		Extractor: utils.NewRemoteAddrExtractor(),
		Logger:    log.Logger(),
	}
	cfg.ErrorHandler = defaultErrorHandler(l, cfg)
	for _, opt := range options {
		opt(cfg)
	}
	return &httpRateLimiterHandler{
		handler: originalHandler,
		limiter: l,
		config:  cfg,
	}
}

func defaultErrorHandler(l *ratelimiter.Limiter, cfg *Config) ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, l.LimitError()) {
			writeResponse(cfg.Logger, w, http.StatusTooManyRequests, "%v", err)
			return
		}
		writeResponse(cfg.Logger, w, http.StatusInternalServerError, "failed to run rate limiting for request: %v", err)
	}
}

func writeResponse(logger *zap.Logger, writer http.ResponseWriter, status int, msg string, args ...interface{}) {
	writer.Header().Set("Content-Type", "text/plain")
	writer.WriteHeader(status)
	if _, err := writer.Write([]byte(fmt.Sprintf(msg, args...))); err != nil {
		logger.Error("Failed to write body to HTTP request", zap.Error(err))
	}
}

// ServeHTTP performs rate limiting and, if the request was allowed or exempt, sends it to the wrapped
// handler. Limited requests get rate limiting headers so the client knows what state it is in.
func (h *httpRateLimiterHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	var (
		count int64
		err   error
	)
	if h.config.Extractor != nil {
		key, exErr := h.config.Extractor.Extract(request)
		if exErr != nil {
			writeResponse(h.config.Logger, writer, http.StatusBadRequest, "failed to collect rate limiting key from request: %v", exErr)
			return
		}
		count, err = h.limiter.ExecWith(request.Context(), fixedHash(key), request)
	} else {
		count, err = h.limiter.Exec(request.Context(), request)
	}

	// exempt requests go through as if there was no limiter at all
	if count == 0 && err == nil {
		h.handler.ServeHTTP(writer, request)
		return
	}

	if count > 0 {
		state := ratelimiter.Allow
		if err != nil {
			state = ratelimiter.Deny
		}
		writer.Header().Set(rateLimitMaxRequests, strconv.FormatInt(h.limiter.Max(), 10))
		writer.Header().Set(rateLimitCount, strconv.FormatInt(count, 10))
		writer.Header().Set(rateLimitState, state.String())
	}

	if err != nil {
		h.config.Logger.Debug("Request rejected by rate limiter", zap.String("path", request.URL.Path), zap.Error(err))
		h.config.ErrorHandler(writer, request, err)
		return
	}

	h.handler.ServeHTTP(writer, request)
}

func fixedHash(key string) ratelimiter.HashFunc {
	return func(...any) string {
		return key
	}
}
