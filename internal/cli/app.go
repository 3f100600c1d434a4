package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/searchops/indexmigrate/internal/config"
	"github.com/searchops/indexmigrate/internal/db"
	"github.com/searchops/indexmigrate/internal/db/memdb"
	"github.com/searchops/indexmigrate/internal/db/redis"
	"github.com/searchops/indexmigrate/internal/engine"
	"github.com/searchops/indexmigrate/internal/indexes"
	"github.com/searchops/indexmigrate/internal/logger"
	"github.com/searchops/indexmigrate/internal/metrics"
	"github.com/searchops/indexmigrate/internal/registry"
	"github.com/searchops/indexmigrate/internal/search"
	searchbleve "github.com/searchops/indexmigrate/internal/search/bleve"
	"github.com/searchops/indexmigrate/internal/search/elastic"
	"github.com/searchops/indexmigrate/internal/source"
	"github.com/searchops/indexmigrate/internal/version"
)

// app wires configuration into a running engine. Built once per command
// invocation and torn down when the command exits.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	store   db.Store
	search  search.Client
	engine  *engine.Engine
	metrics *metrics.Metrics
	promReg *prometheus.Registry
}

func newApp(ctx context.Context) (*app, context.Context, error) {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return nil, ctx, err
	}

	log, err := logger.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, ctx, err
	}
	ctx = logger.ContextWithLogger(ctx, log)

	store, err := newStore(ctx, cfg.Database)
	if err != nil {
		return nil, ctx, err
	}

	client, err := newSearchClient(cfg.Search)
	if err != nil {
		store.Close()
		return nil, ctx, err
	}

	reg := registry.New(store, cfg.Index.KeyPrefix)
	mgr := indexes.NewManager(reg, client, cfg.Index.EnvironmentPrefix, version.CodebaseTag())
	if err := registerDefinitions(mgr, cfg); err != nil {
		store.Close()
		client.Close()
		return nil, ctx, err
	}
	if err := mgr.Initialize(ctx); err != nil {
		store.Close()
		client.Close()
		return nil, ctx, err
	}

	met := metrics.New()
	promReg := prometheus.NewRegistry()
	if err := met.Register(promReg); err != nil {
		store.Close()
		client.Close()
		return nil, ctx, err
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		search:  client,
		metrics: met,
		promReg: promReg,
	}
	a.engine = engine.New(mgr, met, engine.Defaults{
		BatchSize:  cfg.Reindex.BatchSize,
		MaxRetries: cfg.Reindex.MaxRetries,
	})
	return a, ctx, nil
}

func (a *app) close() {
	if err := a.search.Close(); err != nil {
		a.log.Warn("closing search client", zap.Error(err))
	}
	a.store.Close()
	_ = a.log.Sync()
}

func newStore(ctx context.Context, cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memdb.NewStore(), nil
	case "redis":
		store, err := redis.NewStore(redis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
		})
		if err != nil {
			return nil, err
		}
		timeout := time.Duration(cfg.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func newSearchClient(cfg config.SearchConfig) (search.Client, error) {
	switch cfg.Driver {
	case "elasticsearch":
		return elastic.NewClient(elastic.Config{
			Endpoint: cfg.Endpoint,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  time.Duration(cfg.TimeoutSec) * time.Second,
		}), nil
	case "bleve":
		return searchbleve.NewClient(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown search driver %q", cfg.Driver)
	}
}

// registerDefinitions loads each configured index's schema file and wires its
// data source.
func registerDefinitions(mgr *indexes.Manager, cfg config.Config) error {
	for _, def := range cfg.Indexes {
		raw, err := os.ReadFile(def.SchemaFile)
		if err != nil {
			return fmt.Errorf("read schema of index %q: %w", def.Name, err)
		}
		var src source.DataSource
		if def.DataFile != "" {
			src = &source.NDJSONFile{Path: def.DataFile}
		}
		mgr.Register(indexes.Definition{
			Name:      def.Name,
			SchemaRaw: raw,
			Source:    src,
			BatchSize: def.BatchSize,
		})
	}
	return nil
}
