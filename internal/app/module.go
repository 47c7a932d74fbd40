// Package app composes the sync daemon from its parts and manages their
// lifecycle.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tarpai/connect-sync/internal/bus"
	"github.com/tarpai/connect-sync/internal/cache"
	"github.com/tarpai/connect-sync/internal/config"
	"github.com/tarpai/connect-sync/internal/lock"
	"github.com/tarpai/connect-sync/internal/logging"
	"github.com/tarpai/connect-sync/internal/profile"
	"github.com/tarpai/connect-sync/internal/remote"
	"github.com/tarpai/connect-sync/internal/store"
	intsync "github.com/tarpai/connect-sync/internal/sync"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRemote,
			provideCache,
			provideReconciler,
			provideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return config.Default()
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *intsync.Machine {
	return intsync.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	st, err := store.Open(store.Options{
		Backend:    cfg.Backend,
		DBPath:     profile.DBPath(p.Profile),
		KVDir:      profile.KVDir(p.Profile),
		MaxRetries: cfg.Sync.MaxRetries,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("store initialized", zap.String("backend", st.Backend()))
	return st, nil
}

func provideRemote(cfg *config.Config) remote.Client {
	return remote.NewHTTPClient(remote.Options{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.RemoteTimeout(),
	})
}

func provideCache(cfg *config.Config, logger *zap.Logger) *cache.Cache {
	return cache.New(cfg.CacheTTL(), logger)
}

func provideReconciler(st store.Store, rc remote.Client, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(st, rc, logger)
}

func provideManager(st store.Store, rc remote.Client, m *intsync.Machine, r *intsync.Reconciler, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Manager {
	return intsync.NewManager(st, rc, m, r, b, logger, intsync.Options{
		PingInterval:  cfg.PingInterval(),
		DrainInterval: cfg.DrainInterval(),
	})
}

func registerLifecycle(lc fx.Lifecycle, mgr *intsync.Manager, st store.Store, lk *lock.Lock, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Purge synced actions past the retention window before the
			// drain loop starts.
			removed, err := st.Cleanup(cfg.Retention())
			if err != nil {
				logger.Warn("startup cleanup failed", zap.Error(err))
			} else if removed > 0 {
				logger.Info("startup cleanup removed synced actions", zap.Int("removed", removed))
			}

			mgr.Start(context.Background())
			logger.Info("sync manager started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			mgr.Stop()
			if err := st.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
