package daemon

import (
	"context"
	"time"

	"github.com/xhj721521/teamchat/internal/api"
	"github.com/xhj721521/teamchat/internal/bus"
	"github.com/xhj721521/teamchat/internal/chat"
	"github.com/xhj721521/teamchat/internal/config"
	"github.com/xhj721521/teamchat/internal/gateway"
	"github.com/xhj721521/teamchat/internal/history"
	"github.com/xhj721521/teamchat/internal/live"
	"github.com/xhj721521/teamchat/internal/lock"
	"github.com/xhj721521/teamchat/internal/logging"
	"github.com/xhj721521/teamchat/internal/persist"
	"github.com/xhj721521/teamchat/internal/send"
	"github.com/xhj721521/teamchat/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideDB,
			provideCheckpointer,
			provideGateway,
			provideLoader,
			providePipeline,
			provideSupervisor,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return config.Default()
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(b *bus.Bus, logger *zap.Logger) *chat.Store {
	return chat.NewStore(b, logger)
}

func provideDB(p Params, logger *zap.Logger) (*persist.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := persist.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("snapshot store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCheckpointer(store *chat.Store, db *persist.DB, logger *zap.Logger) *persist.Checkpointer {
	return persist.NewCheckpointer(store, db, logger)
}

func provideGateway(cfg *config.Config) *gateway.Memory {
	mem := gateway.NewMemory()
	mem.Latency = time.Duration(cfg.Mock.LatencyMs) * time.Millisecond
	mem.BotInterval = time.Duration(cfg.Mock.BotIntervalSecs) * time.Second
	if cfg.Mock.SeedDemo {
		for _, teamID := range cfg.Teams {
			mem.SeedDemo(teamID)
		}
	}
	return mem
}

func provideLoader(store *chat.Store, mem *gateway.Memory, logger *zap.Logger, cfg *config.Config) *history.Loader {
	return history.NewLoader(store, mem, logger, cfg.Chat.BootstrapLimit, cfg.Chat.OlderLimit)
}

func providePipeline(store *chat.Store, b *bus.Bus, logger *zap.Logger) *send.Pipeline {
	return send.NewPipeline(store, b, logger)
}

func provideSupervisor(store *chat.Store, mem *gateway.Memory, pipeline *send.Pipeline, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *live.Supervisor {
	return live.NewSupervisor(store, mem, pipeline, cfg.Author(), b, logger)
}

func provideHandler(p Params, store *chat.Store, loader *history.Loader, supervisor *live.Supervisor, cp *persist.Checkpointer, logger *zap.Logger) *api.Handler {
	return api.NewHandler(p.SessionName, store, loader, supervisor, cp, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *persist.DB, cp *persist.Checkpointer, loader *history.Loader, supervisor *live.Supervisor, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Restore checkpointed conversations from the last run.
			restored, err := cp.Restore()
			if err != nil {
				return err
			}
			logger.Info("snapshots restored", zap.Int("teams", restored))

			// Start HTTP server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Join configured teams: bootstrap history, open live channels.
			for _, teamID := range cfg.Teams {
				teamID := teamID
				go func() {
					ctx := context.Background()
					if err := loader.Bootstrap(ctx, teamID); err != nil {
						logger.Error("auto-bootstrap failed", zap.String("team_id", teamID), zap.Error(err))
						return
					}
					if err := supervisor.Connect(ctx, teamID); err != nil {
						logger.Error("auto-connect failed", zap.String("team_id", teamID), zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			supervisor.Shutdown()
			if err := cp.CheckpointAll(); err != nil {
				logger.Warn("final checkpoint incomplete", zap.Error(err))
			}
			srv.Stop(ctx)
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
