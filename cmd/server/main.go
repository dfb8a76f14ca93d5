package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lowc1012/superlimiter/internal/config"
	"github.com/lowc1012/superlimiter/internal/log"
	"github.com/lowc1012/superlimiter/pkg/middleware/nethttp"
	"github.com/lowc1012/superlimiter/pkg/ratelimiter"
	"github.com/lowc1012/superlimiter/pkg/store"
	"github.com/lowc1012/superlimiter/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func HelloHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Hello, World!"))
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.Logger()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	redisStore, err := store.NewRedis(redisClient)
	if err != nil {
		logger.Fatal("Failed to create store", zap.Error(err))
	}

	limiter, err := ratelimiter.New(redisStore,
		ratelimiter.WithTTL(cfg.Limiter.TTL),
		ratelimiter.WithMax(cfg.Limiter.Max),
		ratelimiter.WithExpiredAt(cfg.Limiter.ExpiredAt),
		ratelimiter.WithPrefix(cfg.Limiter.Prefix),
		ratelimiter.WithErrorHandler(func(e *ratelimiter.Error) {
			logger.Warn("Rate limit bucket may never reset",
				zap.String("type", e.Type), zap.String("key", e.Key), zap.Error(e.Err))
		}),
	)
	if err != nil {
		logger.Fatal("Failed to create limiter", zap.Error(err))
	}

	extractor := utils.NewRemoteAddrExtractor()
	if len(cfg.Limiter.Headers) > 0 {
		extractor = utils.NewHTTPHeadersExtractor(cfg.Limiter.Headers...)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/hello", HelloHandler)

	// use wrappedMux instead of mux as root handler
	wrappedMux := nethttp.NewHTTPRateLimiterHandler(mux, limiter, nethttp.WithExtractor(extractor))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           wrappedMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", zap.Error(err))
		}
	}()

	logger.Info("Run a server", zap.String("addr", cfg.Listen), zap.String("redis", cfg.Redis.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to serve handler", zap.Error(err))
	}
}
