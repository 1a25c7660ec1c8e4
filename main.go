package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/ragops-session/server/internal/core"
	"github.com/ragops-session/server/internal/engine"
	"github.com/ragops-session/server/internal/handler"
	"github.com/ragops-session/server/internal/metrics"
	"github.com/ragops-session/server/internal/session/conversations"
	"github.com/ragops-session/server/internal/session/model"
	"github.com/ragops-session/server/internal/session/orchestrator"
	"github.com/ragops-session/server/internal/session/repo"
	"github.com/ragops-session/server/internal/session/window"
	logx "github.com/ragops-session/server/pkg/logger"
	pkgredis "github.com/ragops-session/server/pkg/redis"
	pkgsqlite "github.com/ragops-session/server/pkg/sqlite"
)

// AppConfig defines all configurable parameters of the session service,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`
	HTTPAddr    string           `envconfig:"HTTP_ADDR" default:":8083"`

	// Infrastructure
	Redis    pkgredis.Config
	SQLite   pkgsqlite.Config
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"10m"`

	// Conversation window
	Window window.Policy

	// Answer engine
	Engine   engine.Config
	Gemini   engine.GeminiConfig
	Response engine.ResponseModelConfig
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		logx.Warn().Err(err).Msg("could not load .env file, using process environment")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("failed to process environment config")
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment})

	db, err := cfg.SQLite.Open()
	if err != nil {
		logx.Fatal().Err(err).Str("path", cfg.SQLite.Path).Msg("failed to open conversation store")
	}
	defer db.Close()

	sqlStore, err := repo.NewSQLiteConversationStore(ctx, db)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise conversation store")
	}

	cache, cachePing := newHistoryCache(cfg)
	store := repo.NewCachedConversationStore(sqlStore, cache)

	m := metrics.New()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Str("backend", cfg.Engine.Backend).Msg("failed to initialise answer engine")
	}
	guard := engine.NewGuard(eng, cfg.Engine)

	router := handler.NewRouter(
		conversations.NewService(store, cache, cfg.Window, m),
		orchestrator.New(store, cfg.Window, guard, m),
		m,
		handler.Probe{Name: "store", Ping: sqlStore.Ping},
		handler.Probe{Name: "cache", Ping: cachePing, Optional: true},
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logx.Info().
		Str("addr", cfg.HTTPAddr).
		Str("environment", cfg.Environment.String()).
		Str("engine", cfg.Engine.Backend).
		Int("windowPairs", cfg.Window.Window).
		Int("maxTokens", cfg.Window.MaxTokens).
		Msg("session service listening")

	if err := runServer(ctx, srv); err != nil {
		logx.Fatal().Err(err).Msg("server error")
	}
	logx.Info().Msg("server stopped")
}

// newHistoryCache returns the Redis cache when REDIS_URL is set and a no-op
// cache otherwise, with the matching health probe.
func newHistoryCache(cfg AppConfig) (model.HistoryCache, func(context.Context) error) {
	if !cfg.Redis.Enabled() {
		logx.Info().Msg("REDIS_URL not set, history cache disabled")
		nop := repo.NopHistoryCache{}
		return nop, nop.Ping
	}

	rdb, err := cfg.Redis.New()
	if err != nil {
		logx.Warn().Err(err).Msg("redis unavailable, history cache disabled")
		nop := repo.NopHistoryCache{}
		return nop, nop.Ping
	}
	logx.Info().Dur("ttl", cfg.CacheTTL).Msg("connected to redis history cache")

	cache := repo.NewRedisHistoryCache(rdb, cfg.CacheTTL)
	return cache, cache.Ping
}

func newEngine(ctx context.Context, cfg AppConfig) (engine.Engine, error) {
	switch cfg.Engine.Backend {
	case engine.BackendGemini:
		cm, err := engine.NewGeminiChatModel(ctx, cfg.Gemini, cfg.Response)
		if err != nil {
			return nil, err
		}
		eng, err := engine.NewChatModelEngine(ctx, cm, cfg.Response.SystemPrompt)
		if err != nil {
			return nil, err
		}
		return eng, nil
	case engine.BackendHTTP, "":
		return engine.NewHTTPClient(cfg.Engine.BaseURL, nil), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
