package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/analysis"
	"github.com/matheus3301/wpptriage/internal/api"
	"github.com/matheus3301/wpptriage/internal/bus"
	"github.com/matheus3301/wpptriage/internal/config"
	"github.com/matheus3301/wpptriage/internal/ingest"
	"github.com/matheus3301/wpptriage/internal/lock"
	"github.com/matheus3301/wpptriage/internal/logging"
	"github.com/matheus3301/wpptriage/internal/oracle"
	"github.com/matheus3301/wpptriage/internal/progress"
	"github.com/matheus3301/wpptriage/internal/scheduler"
	"github.com/matheus3301/wpptriage/internal/session"
	"github.com/matheus3301/wpptriage/internal/status"
	"github.com/matheus3301/wpptriage/internal/store"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional; empty = session or global config.toml
	EnvFile     string // optional; empty = <base>/.env
	HTTPAddr    string // optional; overrides the configured address
	Debug       bool
}

func (p Params) configPath() string {
	if p.ConfigPath != "" {
		return p.ConfigPath
	}
	return session.ConfigPath(p.SessionName)
}

func (p Params) envFile() string {
	if p.EnvFile != "" {
		return p.EnvFile
	}
	return session.EnvPath()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideConfig,
			provideTracker,
			provideClientFactory,
			provideIngest,
			provideAnalysis,
			provideScheduler,
			provideAPI,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock",
		zap.String("session", p.SessionName),
		zap.String("path", session.LockPath(p.SessionName)),
	)
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideConfig(p Params, logger *zap.Logger) (config.Config, error) {
	path := p.configPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err = config.LoadEnv(cfg, p.envFile())
	if err != nil {
		return config.Config{}, err
	}
	if p.HTTPAddr != "" {
		cfg.HTTP.Addr = p.HTTPAddr
	}
	if _, ok := oracle.LookupModel(cfg.OpenRouter.Model); !ok {
		logger.Warn("model not in catalog, passing it to OpenRouter as-is", zap.String("model", cfg.OpenRouter.Model))
	}
	logger.Info("configuration loaded",
		zap.String("path", path),
		zap.Bool("configured", cfg.Configured()),
		zap.String("model", cfg.OpenRouter.Model),
		zap.Bool("cron_enabled", cfg.Cron.Enabled),
	)
	return cfg, nil
}

func provideTracker(b *bus.Bus) *progress.Tracker {
	return progress.NewTracker(b)
}

func provideClientFactory(logger *zap.Logger) analysis.ClientFactory {
	return NewClientFactory(logger)
}

func provideIngest(db *store.DB, b *bus.Bus, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, logger)
}

func provideAnalysis(cfg config.Config, factory analysis.ClientFactory, db *store.DB, ing *ingest.Engine,
	tracker *progress.Tracker, b *bus.Bus, logger *zap.Logger) *analysis.Service {
	return analysis.NewService(cfg, factory, db, ing, tracker, b, logger)
}

func provideScheduler(cfg config.Config, svc *analysis.Service, db *store.DB, b *bus.Bus, logger *zap.Logger) (*scheduler.Scheduler, error) {
	return NewScheduler(cfg, svc, db, time.Local, b, logger)
}

func provideAPI(p Params, cfg config.Config, svc *analysis.Service, db *store.DB, ing *ingest.Engine,
	tracker *progress.Tracker, sched *scheduler.Scheduler, m *status.Machine, logger *zap.Logger) *api.Server {
	return api.NewServer(cfg.HTTP.Addr, api.Deps{
		Analysis:   svc,
		DB:         db,
		Ingest:     ing,
		Tracker:    tracker,
		Scheduler:  sched,
		Status:     m,
		ConfigPath: p.configPath(),
	}, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, httpSrv *api.Server, lk *lock.Lock, db *store.DB,
	svc *analysis.Service, sched *scheduler.Scheduler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := machine.Settle(svc.Config().Configured()); err != nil {
				logger.Warn("initial status", zap.Error(err))
			}
			if machine.Current() == status.Unconfigured {
				logger.Info("providers not configured, analysis disabled until credentials are set")
			}
			srv.SetServing(machine.Current().Serving())

			go machine.Watch(ctx, b, func() bool { return svc.Config().Configured() }, logger)
			go srv.Follow(ctx, b)

			// Start gRPC health server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := httpSrv.Start(); err != nil {
				cancel()
				return err
			}

			// Retry loop for queued and failed outbox entries.
			svc.Sender().Start(ctx)

			sched.Start()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-sched.Stop().Done():
			case <-stopCtx.Done():
				logger.Warn("scheduled jobs still running at shutdown")
			}
			svc.Sender().Stop()
			if err := httpSrv.Stop(stopCtx); err != nil {
				logger.Warn("error stopping HTTP API", zap.Error(err))
			}
			srv.Stop(stopCtx)
			if err := db.Close(); err != nil {
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
