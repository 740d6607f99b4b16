package daemon

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/folder"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/mutation"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/receipt"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tracing"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
	SelfID      int64
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
			provideGateway,
			providePushChannel,
			intsync.NewForegroundTracker,
			provideCoordinator,
			provideMutations,
			provideReceipts,
			folder.NewService,
			provideSender,
			provideService,
			NewServer,
		),
		fx.Invoke(registerTracing, registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, logging.Options{
		Level:      p.Config.Logging.Level,
		MaxSizeMB:  p.Config.Logging.MaxSizeMB,
		MaxBackups: p.Config.Logging.MaxBackups,
	})
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
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by the
// process holding the session.
func provideStore(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath, b)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGateway(p Params, logger *zap.Logger) remote.Gateway {
	return remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL:             p.Config.Server.BaseURL,
		Token:               p.Config.Account.Token,
		Timeout:             p.Config.Server.RequestTimeout.Duration,
		UnreachableCooldown: p.Config.Server.UnreachableCooldown.Duration,
	}, logger.Named("gateway"))
}

func providePushChannel(p Params, b *bus.Bus, m *status.Machine, logger *zap.Logger) *remote.PushChannel {
	url := p.Config.Server.PushURL
	if url == "" {
		url = remote.PushURL(p.Config.Server.BaseURL)
	}
	return remote.NewPushChannel(remote.PushConfig{
		URL:   url,
		Token: p.Config.Account.Token,
	}, b, m, logger.Named("push"))
}

func provideCoordinator(p Params, db *store.DB, gw remote.Gateway, b *bus.Bus, m *status.Machine, fg *intsync.ForegroundTracker, logger *zap.Logger) *intsync.Coordinator {
	return intsync.NewCoordinator(db, gw, b, m, fg, intsync.Options{
		SelfID:          p.SelfID,
		WarmConcurrency: p.Config.Sync.WarmConcurrency,
		PushBuffer:      p.Config.Sync.PushBuffer,
	}, logger.Named("sync"))
}

func provideMutations(db *store.DB, gw remote.Gateway, c *intsync.Coordinator, logger *zap.Logger) *mutation.Manager {
	return mutation.NewManager(db, gw, c, logger.Named("mutation"))
}

func provideReceipts(p Params, db *store.DB, push *remote.PushChannel, c *intsync.Coordinator, logger *zap.Logger) *receipt.Dispatcher {
	return receipt.NewDispatcher(db, push, c, p.SelfID, logger.Named("receipt"))
}

func provideSender(p Params, db *store.DB, push *remote.PushChannel, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, push, b, outbox.Options{
		SelfID:      p.SelfID,
		Interval:    p.Config.Sync.OutboxInterval.Duration,
		MaxAttempts: p.Config.Sync.OutboxMaxAttempts,
	}, logger.Named("outbox"))
}

type serviceParams struct {
	fx.In

	Params     Params
	DB         *store.DB
	Bus        *bus.Bus
	Machine    *status.Machine
	Sync       *intsync.Coordinator
	Foreground *intsync.ForegroundTracker
	Mutations  *mutation.Manager
	Receipts   *receipt.Dispatcher
	Folders    *folder.Service
	Outbox     *outbox.Sender
	Push       *remote.PushChannel
	Logger     *zap.Logger
}

func provideService(sp serviceParams) *api.Service {
	return api.NewService(api.Deps{
		Session:    sp.Params.SessionName,
		DB:         sp.DB,
		Bus:        sp.Bus,
		Machine:    sp.Machine,
		Sync:       sp.Sync,
		Foreground: sp.Foreground,
		Mutations:  sp.Mutations,
		Receipts:   sp.Receipts,
		Folders:    sp.Folders,
		Outbox:     sp.Outbox,
		Push:       sp.Push,
		Logger:     sp.Logger.Named("api"),
	})
}

func registerTracing(lc fx.Lifecycle, p Params, logger *zap.Logger) {
	var shutdown tracing.Shutdown
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = tracing.Setup(ctx, tracing.Config{
				Enabled:    p.Config.Tracing.Enabled,
				Exporter:   p.Config.Tracing.Exporter,
				Endpoint:   p.Config.Tracing.Endpoint,
				SampleRate: p.Config.Tracing.SampleRate,
				Session:    p.SessionName,
			}, logger)
			return err
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

type lifecycleParams struct {
	fx.In

	LC          fx.Lifecycle
	Server      *Server
	Lock        *lock.Lock
	DB          *store.DB
	Push        *remote.PushChannel
	Coordinator *intsync.Coordinator
	Folders     *folder.Service
	Sender      *outbox.Sender
	Machine     *status.Machine
	Logger      *zap.Logger
}

func registerLifecycle(lp lifecycleParams) {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	logger := lp.Logger
	lp.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			// The coordinator subscribes before the push channel connects so
			// the first connected event triggers the catch-up refresh.
			lp.Coordinator.Start(ctx)
			lp.Sender.Start(ctx)

			wg.Go(func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			})

			wg.Go(func() {
				if _, err := lp.Folders.Load(ctx); err != nil {
					logger.Warn("initial folder load failed", zap.Error(err))
				}
			})

			wg.Go(func() {
				if err := lp.Push.Run(ctx); err != nil {
					logger.Error("push channel stopped", zap.Error(err))
				}
			})

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			lp.Server.Stop(ctx)
			wg.Wait()
			lp.Sender.Stop()
			lp.Coordinator.Stop()
			_ = lp.Machine.Transition(status.Stopped)
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
