package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/strategy-cache/pkg/api"
	"github.com/Sternrassler/strategy-cache/pkg/auth"
	"github.com/Sternrassler/strategy-cache/pkg/backend"
	"github.com/Sternrassler/strategy-cache/pkg/cache"
	"github.com/Sternrassler/strategy-cache/pkg/config"
	"github.com/Sternrassler/strategy-cache/pkg/janitor"
	"github.com/Sternrassler/strategy-cache/pkg/logging"
	"github.com/Sternrassler/strategy-cache/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

// pinger reports backend reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// run wires the server from cfg and blocks until ctx is done or the
// listener fails.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	opts := []cache.Option{
		cache.WithAdvisorConfig(cfg.Advisor),
		cache.WithLogger(logging.NewLogger("cache")),
	}

	var ready pinger
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		backendLogger := logging.NewLogger("backend")
		be := backend.NewRedis(rdb, backend.Options{
			Timeout:         cfg.Redis.Timeout,
			BreakerFailures: cfg.Redis.BreakerFailures,
			BreakerTimeout:  cfg.Redis.BreakerTimeout,
			Logger:          &backendLogger,
		})
		if err := be.Ping(ctx); err != nil {
			// The cache serves from memory while the backend is down.
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis not reachable at startup")
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		}

		opts = append(opts, cache.WithBackend(be), cache.WithKeyPrefix(cfg.Redis.KeyPrefix))
		ready = be
	}

	manager := cache.NewManager(opts...)
	if err := bootstrap(manager, cfg, logger); err != nil {
		return err
	}

	tokens, err := auth.NewStaticTokens(cfg.Auth.Tokens)
	if err != nil {
		return fmt.Errorf("auth tokens: %w", err)
	}

	jan, err := janitor.New(manager, cfg.Janitor)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(cfg.Server.Path, manager, tokens, ready, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("path", cfg.Server.Path).Msg("Starting cache server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	jan.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		jan.Stop(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// bootstrap creates the configured strategies and invalidation rules.
func bootstrap(manager *cache.Manager, cfg *config.Config, logger zerolog.Logger) error {
	for _, s := range cfg.Strategies {
		if _, err := manager.CreateStrategy(s.Cache()); err != nil {
			return fmt.Errorf("bootstrap strategy %q: %w", s.ID, err)
		}
	}
	for _, r := range cfg.InvalidationRules {
		if _, err := manager.AddInvalidationRule(r.Cache()); err != nil {
			return fmt.Errorf("bootstrap rule for event %q: %w", r.Event, err)
		}
	}

	logger.Info().
		Int("strategies", len(cfg.Strategies)).
		Int("rules", len(cfg.InvalidationRules)).
		Msg("Bootstrap complete")
	return nil
}

// newRouter builds the HTTP routes. ready may be nil when no backend is
// configured.
func newRouter(path string, manager *cache.Manager, resolver auth.Resolver, ready pinger, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(logger), metrics.Middleware())

	r.GET("/health", gin.WrapF(healthHandler))
	r.GET("/ready", gin.WrapF(readyHandler(ready)))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api.NewHandler(manager, resolver).Register(r, path)
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while the backend cannot be reached.
func readyHandler(p pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
