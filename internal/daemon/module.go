package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/miloview/miloview/internal/backup"
	"github.com/miloview/miloview/internal/block"
	"github.com/miloview/miloview/internal/bus"
	"github.com/miloview/miloview/internal/config"
	"github.com/miloview/miloview/internal/lock"
	"github.com/miloview/miloview/internal/logging"
	"github.com/miloview/miloview/internal/metrics"
	"github.com/miloview/miloview/internal/server"
	"github.com/miloview/miloview/internal/status"
	"github.com/miloview/miloview/internal/store"
	intsync "github.com/miloview/miloview/internal/sync"
	"github.com/miloview/miloview/internal/twilio"
)

// Params holds the boot options passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCache,
			provideBackup,
			provideBlocklist,
			provideSource,
			provideMetrics,
			provideController,
			provideScheduler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideCache() *store.Cache {
	return store.NewCache()
}

func provideBackup(cfg *config.Config, logger *zap.Logger) (*backup.DB, error) {
	dbPath := cfg.BackupDBPath()
	db, err := backup.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("backup migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("backup migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("backup mirror initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBlocklist(cfg *config.Config, logger *zap.Logger) (*block.Manager, error) {
	return block.NewManager(cfg.BlocklistPath(), logger)
}

func provideSource(cfg *config.Config, logger *zap.Logger) twilio.Source {
	return twilio.NewSource(cfg.Upstream, logger)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideController(
	cache *store.Cache,
	source twilio.Source,
	db *backup.DB,
	b *bus.Bus,
	machine *status.Machine,
	m *metrics.Metrics,
	logger *zap.Logger,
) *intsync.Controller {
	return intsync.NewController(cache, source, db, b, machine, m, logger)
}

func provideScheduler(cfg *config.Config, c *intsync.Controller, logger *zap.Logger) *intsync.Scheduler {
	return intsync.NewScheduler(c,
		time.Duration(cfg.Sync.IncrementalSeconds)*time.Second,
		time.Duration(cfg.Sync.RepairMinutes)*time.Minute,
		time.Duration(cfg.Sync.RepairLookbackDays)*24*time.Hour,
		logger,
	)
}

func provideServer(
	cfg *config.Config,
	cache *store.Cache,
	c *intsync.Controller,
	blocklist *block.Manager,
	machine *status.Machine,
	m *metrics.Metrics,
	b *bus.Bus,
	logger *zap.Logger,
) *server.Server {
	return server.NewServer(cfg, cache, c, blocklist, machine, m, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *server.Server,
	lk *lock.Lock,
	db *backup.DB,
	controller *intsync.Controller,
	scheduler *intsync.Scheduler,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lookback := time.Duration(cfg.Sync.LookbackDays) * 24 * time.Hour
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			_ = machine.Transition(status.Loading)

			restored, err := controller.RestoreFromBackup()
			if err != nil {
				logger.Warn("backup restore failed, starting cold", zap.Error(err))
			} else if restored > 0 {
				logger.Info("restored cache from backup", zap.Int("messages", restored))
			}

			if err := srv.Start(); err != nil {
				return err
			}

			controller.SyncIfEmpty(lookback)
			scheduler.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Stop()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("http shutdown error", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing backup mirror", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
