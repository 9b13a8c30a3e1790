// Package daemon composes the application: configuration, logging, the
// session registry and the HTTP server, wired through fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wappd/internal/api"
	"github.com/matheus3301/wappd/internal/bus"
	"github.com/matheus3301/wappd/internal/config"
	"github.com/matheus3301/wappd/internal/convstore"
	"github.com/matheus3301/wappd/internal/logging"
	"github.com/matheus3301/wappd/internal/media"
	"github.com/matheus3301/wappd/internal/session"
	"github.com/matheus3301/wappd/internal/status"
	"github.com/matheus3301/wappd/internal/store"
	"github.com/matheus3301/wappd/internal/wa"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			providePaths,
			provideRegistryDB,
			provideSessionFactory,
			provideRegistry,
			provideServer,
			NewSweeper,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	return p.Config
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogFile)
}

func providePaths(cfg *config.Config) session.Paths {
	return session.Paths{DataDir: cfg.DataDir, MediaDir: cfg.MediaDir}
}

func provideRegistryDB(paths session.Paths, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(paths.RegistryDBPath())
	if err != nil {
		return nil, err
	}
	version, applied, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if applied {
		logger.Info("migrations applied", zap.Uint("version", version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", version))
	}
	return db, nil
}

// provideSessionFactory builds the production session factory: each
// session gets its own bus, state machine, whatsmeow adapter, volatile
// conversation store and media fetcher.
func provideSessionFactory(cfg *config.Config, paths session.Paths, logger *zap.Logger) session.Factory {
	return func(ctx context.Context, id string) (*session.Session, error) {
		b := bus.New()
		machine := status.NewMachine(b)

		adapter, err := wa.NewAdapter(ctx, id, paths.SessionDBPath(id), logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		handler := wa.NewEventHandler(b, machine, logger.With(zap.String("session", id)))
		adapter.RegisterEventHandler(handler.Handle)

		convs := convstore.New(cfg.MessagesPerChat, cfg.UpdateLogCap)
		fetcher := media.NewFetcher(paths.SessionMediaDir(id), adapter, convs,
			logger.With(zap.String("session", id)))

		return session.New(id, adapter, b, machine, convs, fetcher, logger, session.Options{
			ReconnectDelay:    cfg.ReconnectDelay(),
			HeartbeatInterval: cfg.HeartbeatInterval(),
		}), nil
	}
}

func provideRegistry(factory session.Factory, db *store.DB, paths session.Paths, logger *zap.Logger) *session.Registry {
	return session.NewRegistry(factory, db, paths, logger)
}

func provideServer(registry *session.Registry, paths session.Paths, logger *zap.Logger) *api.Server {
	return api.NewServer(registry, paths, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *api.Server, registry *session.Registry, sweeper *Sweeper, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Bring registered sessions back online before serving.
			if err := registry.Restore(context.Background()); err != nil {
				logger.Error("session restore failed", zap.Error(err))
			}

			go func() {
				if err := srv.Start(cfg.Listen); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			logger.Info("http server listening", zap.String("addr", cfg.Listen))

			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown error", zap.Error(err))
			}
			registry.CloseAll(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("registry db close error", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
