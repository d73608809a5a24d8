package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/events"
	"github.com/sells-group/leadtrace/internal/store"
	"github.com/sells-group/leadtrace/pkg/analysis"
	"github.com/sells-group/leadtrace/pkg/batchdata"
)

// appEnv holds the initialized store and event bus shared by the serve,
// worker, and CLI commands.
type appEnv struct {
	Store store.Store
	Bus   *events.Bus
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Bus != nil {
		_ = e.Bus.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store and event bus for the given process role.
// Callers should defer env.Close().
func initEnv(ctx context.Context, role string) (*appEnv, error) {
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	bus, err := events.Dial(cfg.AMQP.URL, cfg.AMQP.PrefetchCount)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "dial event bus")
	}

	return &appEnv{Store: st, Bus: bus}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadtrace.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initSkiptraceClient builds the BatchData client, or nil when the
// provider is unconfigured. The skiptrace stage turns nil into recorded
// per-lead failures rather than refusing to start.
func initSkiptraceClient() batchdata.Client {
	if cfg.BatchData.Endpoint == "" || cfg.BatchData.Key == "" {
		zap.L().Warn("batchdata not configured, skiptrace will fail leads with a config error")
		return nil
	}
	return batchdata.NewClient(cfg.BatchData.Endpoint, cfg.BatchData.Key,
		batchdata.WithTimeout(time.Duration(cfg.BatchData.TimeoutSecs)*time.Second),
		batchdata.WithRateLimit(cfg.BatchData.RatePerSec),
	)
}

// initAnalysisClient builds the Anthropic analysis client, or nil when
// the provider is unconfigured.
func initAnalysisClient() analysis.Client {
	if cfg.Anthropic.Key == "" {
		zap.L().Warn("anthropic not configured, analysis will record errors on leads")
		return nil
	}
	return analysis.NewClient(cfg.Anthropic.Key, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
}
