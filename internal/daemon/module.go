package daemon

import (
	"context"

	"github.com/matheus3301/pulse/internal/api"
	"github.com/matheus3301/pulse/internal/auth"
	"github.com/matheus3301/pulse/internal/bus"
	"github.com/matheus3301/pulse/internal/channel"
	"github.com/matheus3301/pulse/internal/config"
	"github.com/matheus3301/pulse/internal/conversation"
	"github.com/matheus3301/pulse/internal/gateway"
	"github.com/matheus3301/pulse/internal/httpapi"
	"github.com/matheus3301/pulse/internal/instance"
	"github.com/matheus3301/pulse/internal/lock"
	"github.com/matheus3301/pulse/internal/logging"
	"github.com/matheus3301/pulse/internal/mail"
	"github.com/matheus3301/pulse/internal/metrics"
	"github.com/matheus3301/pulse/internal/outbox"
	"github.com/matheus3301/pulse/internal/presence"
	"github.com/matheus3301/pulse/internal/reconcile"
	"github.com/matheus3301/pulse/internal/registry"
	"github.com/matheus3301/pulse/internal/router"
	"github.com/matheus3301/pulse/internal/status"
	"github.com/matheus3301/pulse/internal/store"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance   string
	ConfigPath string         // empty = ~/.pulse/config.toml
	Config     *config.Config // optional preloaded config for testing
	SocketPath string         // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRegistry,
			provideConversations,
			provideChannels,
			providePresence,
			provideRouter,
			provideReconciler,
			provideMetrics,
			provideDispatcher,
			provideGateway,
			provideVerifier,
			provideMailer,
			provideSender,
			provideAdminService,
			provideAdminServer,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	path := p.ConfigPath
	if path == "" {
		path = instance.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(instance.LogPath(p.Instance), p.Instance, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(instance.Dir(p.Instance), cfg.Server.HTTPAddr)
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// daemons.
func provideStore(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = instance.DBPath(p.Instance)
	}
	db, err := store.Open(dbPath)
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

	// Nobody is connected to a daemon that is just starting.
	ctx := context.Background()
	if n, err := db.ResetPresence(ctx); err != nil {
		logger.Warn("failed to reset presence", zap.Error(err))
	} else if n > 0 {
		logger.Info("cleared stale presence", zap.Int64("users", n))
	}
	if n, err := db.RequeueSending(ctx); err != nil {
		logger.Warn("failed to requeue emails", zap.Error(err))
	} else if n > 0 {
		logger.Info("requeued interrupted emails", zap.Int64("emails", n))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry(logger *zap.Logger) *registry.Registry {
	return registry.New(logger)
}

func provideConversations() *conversation.Tracker {
	return conversation.NewTracker()
}

func provideChannels() *channel.Membership {
	return channel.NewMembership()
}

func providePresence(cfg *config.Config, db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	t := presence.NewTracker(db, reg, b, logger, cfg.Server.PresenceQueue)
	reg.SetListener(t.PresenceChanged)
	return t
}

func provideRouter(cfg *config.Config, db *store.DB, reg *registry.Registry, convs *conversation.Tracker, chans *channel.Membership, mailer mail.Mailer, b *bus.Bus, logger *zap.Logger) *router.Router {
	return router.New(db, reg, convs, chans, b, logger, router.Options{
		EditWindow:   cfg.Messages.EditWindow,
		FanoutLimit:  cfg.Messages.FanoutLimit,
		EmailOffline: cfg.Notify.EmailOffline && mailer != nil,
	})
}

func provideReconciler(reg *registry.Registry, chans *channel.Membership, convs *conversation.Tracker, b *bus.Bus, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(reg, chans, convs, b, logger)
}

func provideMetrics(reg *registry.Registry, chans *channel.Membership, convs *conversation.Tracker, b *bus.Bus, logger *zap.Logger) *metrics.Metrics {
	return metrics.New(metrics.Source{
		Sessions:      func() int { return reg.Stats().Sessions },
		Users:         func() int { return reg.Stats().Users },
		Channels:      chans.Channels,
		Conversations: convs.Len,
		BusDropped:    b.Dropped,
	}, b, logger)
}

func provideDispatcher(reg *registry.Registry, rt *router.Router, convs *conversation.Tracker, chans *channel.Membership, recon *reconcile.Reconciler, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *gateway.Dispatcher {
	return gateway.NewDispatcher(reg, rt, convs, chans, recon, db, b, m, logger)
}

func provideGateway(cfg *config.Config, reg *registry.Registry, d *gateway.Dispatcher, recon *reconcile.Reconciler, b *bus.Bus, logger *zap.Logger) *gateway.Server {
	return gateway.NewServer(reg, d, recon, b, logger, gateway.Options{
		SendQueue:      cfg.Server.SendQueue,
		WriteTimeout:   cfg.Server.WriteTimeout,
		PingInterval:   cfg.Server.PingInterval,
		OriginPatterns: cfg.Server.AllowedOrigins,
	})
}

func provideVerifier(cfg *config.Config) *auth.Verifier {
	return auth.NewVerifier(cfg.Auth)
}

// provideMailer returns a nil interface when no relay is configured.
func provideMailer(cfg *config.Config) (mail.Mailer, error) {
	m, err := mail.NewSMTP(cfg.Mail)
	if err != nil || m == nil {
		return nil, err
	}
	return m, nil
}

func provideSender(cfg *config.Config, db *store.DB, mailer mail.Mailer, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, mailer, b, logger, outbox.Options{
		PollInterval: cfg.Mail.PollInterval,
		MaxAttempts:  cfg.Mail.MaxAttempts,
	})
}

func provideAdminService(p Params, m *status.Machine, reg *registry.Registry, db *store.DB, chans *channel.Membership, convs *conversation.Tracker, b *bus.Bus, logger *zap.Logger) *api.AdminService {
	return api.NewAdminService(p.Instance, m, reg, db, api.Counters{
		Channels:      chans.Channels,
		Conversations: convs.Len,
	}, b, logger)
}

func provideAdminServer(p Params, cfg *config.Config, svc *api.AdminService, logger *zap.Logger) (*api.Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = cfg.Server.AdminSocket
	}
	if socketPath == "" {
		socketPath = instance.SocketPath(p.Instance)
	}
	return api.NewServer(socketPath, svc, logger)
}

func provideHTTPServer(cfg *config.Config, v *auth.Verifier, gw *gateway.Server, db *store.DB, m *status.Machine, mt *metrics.Metrics, logger *zap.Logger) *HTTPServer {
	h := httpapi.NewHandler(httpapi.Deps{
		Verifier:       v,
		Gateway:        gw,
		Store:          db,
		Health:         m,
		Metrics:        mt.Handler(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	return NewHTTPServer(cfg.Server.HTTPAddr, h.Router(), logger)
}

type lifecycleDeps struct {
	fx.In

	Lock     *lock.Lock
	DB       *store.DB
	Machine  *status.Machine
	Presence *presence.Tracker
	Metrics  *metrics.Metrics
	Sender   *outbox.Sender
	Mailer   mail.Mailer
	Gateway  *gateway.Server
	Admin    *api.Server
	HTTP     *HTTPServer
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	logger := d.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Workers outlive the start context.
			d.Presence.Start(context.Background())
			d.Metrics.Start(context.Background())
			if d.Mailer != nil {
				d.Sender.Start(context.Background())
			} else {
				logger.Info("no mail relay configured, offline emails disabled")
			}

			// Start gRPC server in background.
			go func() {
				if err := d.Admin.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := d.HTTP.Start(); err != nil {
				_ = d.Machine.Transition(status.Error)
				return err
			}
			if err := d.Machine.Transition(status.Serving); err != nil {
				return err
			}
			d.Admin.SetServing(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Machine.Transition(status.Draining); err != nil {
				logger.Warn("unexpected state on shutdown", zap.Error(err))
			}
			d.Admin.SetServing(false)

			var errs error
			errs = multierr.Append(errs, d.HTTP.Stop(ctx))
			// Closing every session runs disconnect cleanup and queues the
			// final offline transitions before the presence worker drains.
			errs = multierr.Append(errs, d.Gateway.Shutdown(ctx))
			d.Presence.Stop()
			d.Sender.Stop()
			d.Metrics.Stop()
			d.Admin.Stop(ctx)

			errs = multierr.Append(errs, d.DB.Close())
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			if d.Machine.Current() == status.Draining {
				_ = d.Machine.Transition(status.Stopped)
			}
			if errs != nil {
				logger.Warn("daemon stopped with errors", zap.Error(errs))
			} else {
				logger.Info("daemon stopped")
			}
			_ = logger.Sync()
			return errs
		},
	})
}
