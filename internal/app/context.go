package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/engine"
	"taskboard/internal/events"
	"taskboard/internal/logging"
	"taskboard/internal/metrics"
	"taskboard/internal/migrate"
	"taskboard/internal/notify"
	"taskboard/internal/repo"
)

// Board bundles a hydrated engine with the resources behind it.
type Board struct {
	Engine  *engine.Engine
	Notices *notify.Center
	Metrics *metrics.Metrics
	Config  *config.Config
	// Log is set only for the sqlite backend, which keeps the event log.
	Log *repo.Repo

	closers []func() error
}

// Close releases resources in reverse order of acquisition.
func (b *Board) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// LoadEnv reads <workspace>/.env into the process environment without
// overriding variables that are already set.
func LoadEnv(workspace string) error {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// ResolveConfig loads taskboard.yml from the workspace, or the defaults when
// the file is absent, and validates the result.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open builds the storage backend named by cfg, hydrates an engine from it
// and wires notifications, metrics and (for sqlite) the event log.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *zap.SugaredLogger) (*Board, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Nop()
	}
	b := &Board{Config: cfg, Metrics: metrics.New()}
	store, recorder, err := b.openStore(ctx, workspace, cfg)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Notices = notify.NewCenter(cfg.Board.NotificationTTL)
	b.closers = append(b.closers, func() error { b.Notices.Close(); return nil })

	e := engine.New(store, cfg)
	e.Events = recorder
	e.Notify = b.Notices
	e.Metrics = b.Metrics
	e.Log = log.With("backend", cfg.Storage.Backend)
	e.Load(ctx)
	b.Engine = e
	return b, nil
}

func (b *Board) openStore(ctx context.Context, workspace string, cfg *config.Config) (repo.KV, events.Recorder, error) {
	switch cfg.Storage.Backend {
	case "", "sqlite":
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		b.closers = append(b.closers, conn.Close)
		if err := migrate.Migrate(conn); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		r := &repo.Repo{DB: conn}
		b.Log = r
		return r, events.Writer{DB: conn}, nil
	case "badger":
		dir := cfg.Storage.Badger.Dir
		if dir == "" {
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return nil, nil, err
			}
			dir = db.BadgerDir(workspace)
		}
		store, err := repo.OpenBadger(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger: %w", err)
		}
		b.closers = append(b.closers, store.Close)
		return store, events.Discard{}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		b.closers = append(b.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Storage.Redis.Addr, err)
		}
		store, err := repo.NewRedis(client, cfg.Storage.Redis.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return store, events.Discard{}, nil
	case "memory":
		return repo.NewMemory(cfg.Storage.Capacity), events.Discard{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
