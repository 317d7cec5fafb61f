package main

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-workflow/config"
	"github.com/goliatone/go-workflow/engine"
	"github.com/goliatone/go-workflow/metrics/prometheus"
	"github.com/goliatone/go-workflow/notify"
	"github.com/goliatone/go-workflow/permission"
	"github.com/goliatone/go-workflow/store"
)

// runtime is an engine wired from configuration plus whatever it needs torn down.
type runtime struct {
	engine   *engine.Engine
	metrics  *prometheus.Collector
	registry *prom.Registry
	closers  []func() error
}

func (r *runtime) close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openStore(cfg config.StoreConfig) (engine.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := sql.Open("sqlite3", cfg.SQLite.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLite.DSN, err)
		}
		if cfg.SQLite.DSN == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		return store.NewSQLiteStore(db, cfg.SQLite.Table), db.Close, nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		return store.NewRedisStore(client, store.WithPrefix(cfg.Redis.Prefix), store.WithTTL(cfg.Redis.TTL)), client.Close, nil
	default:
		return engine.NewMemoryStore(), func() error { return nil }, nil
	}
}

func newNotifier(cfg config.NotifyConfig, logger engine.Logger, extra ...engine.NotificationSink) engine.NotificationSink {
	log := notify.NewRetryingSink(notify.NewLogSink(logger),
		notify.WithMaxAttempts(cfg.MaxAttempts),
		notify.WithStrategy(notify.ExponentialBackoffStrategy{
			Base:   cfg.BackoffBase,
			Factor: cfg.BackoffFactor,
			Max:    cfg.BackoffMax,
		}),
		notify.WithRetryLogger(logger),
	)
	return notify.NewMultiSink(append([]engine.NotificationSink{log}, extra...)...)
}

// buildRuntime wires an engine from cfg. now drives both the engine and the resolver.
func buildRuntime(cfg config.Config, logger engine.Logger, provider permission.Provider, now func() time.Time, extraSinks ...engine.NotificationSink) (*runtime, error) {
	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	rt := &runtime{closers: []func() error{closeStore}}

	cached := permission.NewCachedProvider(provider,
		permission.WithContextTTL(cfg.Permission.ContextTTL),
		permission.WithProviderClock(now),
	)
	resolver := permission.NewResolver(cached,
		permission.WithDecisionWindow(cfg.Permission.DecisionWindow),
		permission.WithClock(now),
	)

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithClock(now),
		engine.WithStore(st),
		engine.WithLockTTL(cfg.Engine.LockTTL),
		engine.WithAutoSave(cfg.Engine.AutoSave),
		engine.WithAuditSink(engine.NewLogAuditSink(logger)),
		engine.WithNotificationSink(newNotifier(cfg.Notify, logger, extraSinks...)),
	}
	if cfg.Metrics.Enabled {
		rt.metrics = prometheus.NewCollector(cfg.Metrics.Namespace)
		rt.registry = prom.NewRegistry()
		if err := rt.registry.Register(rt.metrics); err != nil {
			_ = rt.close()
			return nil, err
		}
		opts = append(opts, engine.WithObserver(rt.metrics))
	}
	rt.engine = engine.New(resolver, opts...)

	reg, err := newRegistry()
	if err != nil {
		_ = rt.close()
		return nil, err
	}
	refs := append(builtinNames(), cfg.Definitions...)
	for _, ref := range refs {
		def, err := loadDefinition(ref)
		if err != nil {
			_ = rt.close()
			return nil, err
		}
		if _, ok := rt.engine.Graph(def.ID); ok {
			continue
		}
		if _, err := rt.engine.RegisterDefinition(def, reg); err != nil {
			_ = rt.close()
			return nil, fmt.Errorf("register %s: %w", ref, err)
		}
	}
	return rt, nil
}
