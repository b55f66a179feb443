package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/tripflow/departments"
	"github.com/liamcoop/tripflow/formula"
	"github.com/liamcoop/tripflow/internal/config"
	"github.com/liamcoop/tripflow/internal/database"
	"github.com/liamcoop/tripflow/internal/logger"
	"github.com/liamcoop/tripflow/rules"
	"github.com/liamcoop/tripflow/workflow"
)

// app is the wired process: the HTTP handler plus what must be closed on exit.
type app struct {
	server  *Server
	db      *sql.DB
	redis   *redis.Client
	cleanup []func() error
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}
}

func conditionCache(ctx context.Context, cfg *config.Config, a *app) (rules.ConditionCache, error) {
	cacheCfg := rules.DefaultCacheConfig()
	cacheCfg.TTL = cfg.CacheTTL

	if cfg.RedisURL == "" {
		return rules.NewInMemoryConditionCache(cacheCfg), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rc := redis.NewClient(opts)
	if err := rc.Ping(ctx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.redis = rc
	a.cleanup = append(a.cleanup, rc.Close)
	logger.Info("using redis condition cache", "addr", opts.Addr, "ttl", cfg.CacheTTL.String())
	return rules.NewRedisConditionCache(rc, cacheCfg), nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	cache, err := conditionCache(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	var (
		formulaStore   rules.FormulaStore
		conditionStore rules.ConditionStore
		deptStore      departments.Store
		history        workflow.HistoryStore
		sink           workflow.RecordSink
	)
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		formulaStore = rules.NewInMemoryFormulaStore()
		conditionStore = rules.NewInMemoryConditionStore()
		deptStore = departments.NewInMemoryStore()
		history = workflow.NewInMemoryHistory()
		sink = workflow.NewInMemorySink()
	} else {
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := database.Open(openCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			a.close()
			return nil, err
		}
		a.db = db
		a.cleanup = append(a.cleanup, db.Close)

		formulaStore = rules.NewPostgresFormulaStore(db)
		conditionStore = rules.NewPostgresConditionStore(db)
		deptStore = departments.NewPostgresStore(db)
		history = workflow.NewPostgresHistory(db)
		sink = workflow.NewPostgresSink(db)
	}

	depts := departments.NewManager(deptStore)
	if err := depts.LoadAll(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}

	engine := rules.NewEngineWithCache(formulaStore, conditionStore, cache)
	engine.SetFieldResolver(depts)
	if a.redis != nil {
		// Entries written by an earlier process may predate migrations.
		if err := engine.InvalidateConditions(ctx); err != nil {
			logger.WarnCache("failed to clear condition cache at startup", "error", err)
		}
	}

	wf := workflow.NewService(engine, sink, history)
	wf.SetCalculator(engine)

	a.server = NewServer(a.db, engine, depts, wf, formula.NewCache(cfg.FormulaCacheSize))
	return a, nil
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML, TOML or JSON config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := logger.Setup(ctx, logger.Options{
		Level:       cfg.LogLevel,
		SampleRate:  cfg.ErrorSampleRate,
		OTEL:        cfg.OTELEnabled,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to start", "error", err)
	}
	defer a.close()

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintln(os.Stderr, "logger shutdown:", err)
	}
	logger.Info("server stopped")
}
