// Package app wires a workspace into a ready engine: config, persistence,
// catalog, favorites service and metrics.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"actionboard/internal/catalog"
	"actionboard/internal/config"
	"actionboard/internal/db"
	"actionboard/internal/domain"
	"actionboard/internal/engine"
	"actionboard/internal/events"
	"actionboard/internal/favorites"
	"actionboard/internal/metrics"
	"actionboard/internal/migrate"
	"actionboard/internal/pgstore"
	"actionboard/internal/repo"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/actionboard.yml.
	ConfigPath string
	// DBPath overrides the SQLite file location.
	DBPath string
	Logger *slog.Logger
}

// Directory lists committed organizations.
type Directory interface {
	ListOrganizations(ctx context.Context) ([]domain.OrganizationSummary, error)
}

// App is an opened workspace.
type App struct {
	Config    *config.Config
	Catalog   *catalog.Catalog
	Favorites favorites.Service
	Engine    engine.Engine
	// Repo is set for the sqlite driver; it also serves events.
	Repo *repo.Repo
	// Postgres is set for the postgres driver.
	Postgres  *pgstore.Store
	Directory Directory
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry

	closers []func() error
}

// LoadConfig reads the config file, falling back to defaults when it is missing.
func LoadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

// Open bootstraps everything the engine needs for a workspace.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	store, err := a.openStore(ctx, opts, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	cat, err := loadCatalog(ctx, opts.Workspace, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Catalog = cat
	favs, err := a.openFavorites(logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Favorites = favs
	a.Engine = engine.New(cat, favs, store, cfg, logger, a.Metrics)
	return a, nil
}

func (a *App) openStore(ctx context.Context, opts Options, logger *slog.Logger) (engine.Persistence, error) {
	switch a.Config.Persistence.Driver {
	case "postgres":
		st, err := pgstore.Open(ctx, a.Config.Persistence.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		a.Postgres = st
		a.Directory = st
		logger.Info("persistence ready", "driver", "postgres")
		return st, nil
	default:
		conn, err := openSQLite(ctx, opts)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		r := &repo.Repo{DB: conn, Events: events.Writer{}}
		a.Repo = r
		a.Directory = r
		path := opts.DBPath
		if path == "" {
			path = db.Path(opts.Workspace)
		}
		logger.Info("persistence ready", "driver", "sqlite", "path", path)
		return r, nil
	}
}

func openSQLite(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.DBPath == "" {
		if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
			return nil, fmt.Errorf("ensure workspace: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// loadCatalog reads catalog.path (relative to the workspace) or the built-in
// catalog when the file does not exist.
func loadCatalog(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*catalog.Catalog, error) {
	var provider catalog.Provider = catalog.Builtin()
	if p := cfg.Catalog.Path; p != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(workspace, p)
		}
		if _, err := os.Stat(p); err == nil {
			provider = catalog.FileProvider{Path: p}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("catalog %s: %w", p, err)
		} else {
			logger.Debug("catalog file missing; using built-in catalog", "path", p)
		}
	}
	cat, err := catalog.Load(ctx, &catalog.Cached{Provider: provider}, cfg)
	if err != nil {
		return nil, err
	}
	return cat, nil
}

func (a *App) openFavorites(logger *slog.Logger) (favorites.Service, error) {
	if a.Config.Favorites.Backend != "redis" {
		return favorites.NewMemoryService(), nil
	}
	svc, err := favorites.NewRedisService(a.Config.Favorites.RedisURL, a.Config.Favorites.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("favorites service: %w", err)
	}
	a.closers = append(a.closers, svc.Close)
	logger.Info("favorites service ready", "backend", "redis", "service", svc.String())
	return svc, nil
}

// Close releases stores and clients in reverse open order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
