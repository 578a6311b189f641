package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Chative-core-poc-v1/advisor/internal/agent/gateway"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/metrics"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/model"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/observers"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/repo"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/retrieval"
	"github.com/Chative-core-poc-v1/advisor/internal/agent/session"
	"github.com/Chative-core-poc-v1/advisor/internal/core"
	logx "github.com/Chative-core-poc-v1/advisor/pkg/logger"
	pkgredis "github.com/Chative-core-poc-v1/advisor/pkg/redis"
)

// AppConfig defines all configurable parameters of the advisor, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis   pkgredis.Config
	Metrics model.MetricsConfig

	// LLM provider
	Gemini  gateway.GeminiConfig
	Gateway model.GatewayConfig

	// Orchestration
	Orchestrator model.OrchestratorConfig
	Retry        model.RetryConfig
	Retrieval    model.RetrievalConfig
	HistoryTurns int `envconfig:"HISTORY_TURNS" default:"6"`
}

func loadConfig() (AppConfig, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.Warn().Err(err).Msg("Could not load .env file")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("process environment config: %w", err)
	}
	return cfg, nil
}

// app holds the wired session and everything that must be released with it.
type app struct {
	session *session.Session
	closers []func()
}

func (a *app) Close() {
	if a.session != nil {
		a.session.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg AppConfig) (*app, error) {
	a := &app{}

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Addr != "" {
		a.closers = append(a.closers, serveMetrics(cfg.Metrics.Addr))
	}

	// ====================================================
	// Context sources
	docs, err := retrieval.DefaultDocuments()
	if cfg.Retrieval.KnowledgeBasePath != "" {
		docs, err = retrieval.LoadDocuments(cfg.Retrieval.KnowledgeBasePath)
	}
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	index, err := retrieval.NewLocalIndex(docs)
	if err != nil {
		return nil, fmt.Errorf("build local index: %w", err)
	}
	a.closers = append(a.closers, func() { _ = index.Close() })
	logx.Info().Int("documents", index.Len()).Msg("Local index ready")

	opts := []retrieval.Option{retrieval.WithMetrics(m)}
	if cfg.Retrieval.LiveSearchURL != "" {
		opts = append(opts, retrieval.WithLive(retrieval.NewLiveSearch(cfg.Retrieval.LiveSearchURL, cfg.Retrieval.LiveSearchTimeout)))
	}

	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.New()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initialise Redis client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		logx.Info().Msg("Connected to Redis successfully")
		opts = append(opts, retrieval.WithCache(repo.NewRedisContextCache(rdb, cfg.Retrieval.CacheTTL)))
	} else {
		opts = append(opts, retrieval.WithCache(repo.NewMemoryContextCache(cfg.Retrieval.CacheTTL)))
	}
	coordinator := retrieval.NewCoordinator(index, cfg.Retrieval, opts...)

	// ====================================================
	// Model gateway
	cm, err := gateway.NewGeminiChatModel(ctx, cfg.Gemini, cfg.Gateway)
	if err != nil {
		a.Close()
		return nil, err
	}
	gw, err := gateway.NewChainGateway(ctx, cm, cfg.Gateway, observers.NewAllCallbacks(logx.Component("llm"), m))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.session = session.New(session.Deps{
		Gateway:      gw,
		Retrieval:    coordinator,
		Metrics:      m,
		Orchestrator: cfg.Orchestrator,
		Retry:        cfg.Retry,
		HistoryTurns: cfg.HistoryTurns,
	})
	return a, nil
}

func serveMetrics(addr string) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logx.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
