package app

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/qrmenu/internal/broker"
	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/internal/domain/profile"
	"github.com/xenking/qrmenu/internal/domain/stats"
	"github.com/xenking/qrmenu/internal/domain/tracking"
	"github.com/xenking/qrmenu/internal/handler"
	"github.com/xenking/qrmenu/internal/live"
	"github.com/xenking/qrmenu/internal/memstore"
	"github.com/xenking/qrmenu/internal/repository"
	"github.com/xenking/qrmenu/pkg/health"
	"github.com/xenking/qrmenu/pkg/httpmiddleware"
)

// storage is the set of repositories backing the services.
type storage struct {
	orders   order.Repository
	counter  order.Counter
	menus    menu.Repository
	profiles profile.Repository
	close    func()
}

// openStorage connects the configured backend and registers its readiness
// checks.
func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config, healthSvc *health.Health) (*storage, error) {
	if cfg.Store == StoreMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		return &storage{
			orders:   memstore.NewOrders(),
			counter:  memstore.NewCounter(),
			menus:    memstore.NewMenus(),
			profiles: memstore.NewProfiles(),
			close:    func() {},
		}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	}, health.WithThresholds(2, 2))
	return &storage{
		orders:   repository.NewOrderRepository(pool, cfg.Orders.CounterRetries),
		counter:  repository.NewCounterRepository(pool, cfg.Orders.CounterRetries),
		menus:    repository.NewMenuRepository(pool),
		profiles: repository.NewProfileRepository(pool),
		close:    pool.Close,
	}, nil
}

// maxLiveSubscribers bounds open status and dashboard streams per instance.
// More than this means subscriptions are leaking.
const maxLiveSubscribers = 50_000

func isHealthCheck(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store),
		zap.Bool("broker", cfg.AMQP.URL != ""),
	)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	st, err := openStorage(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer st.close()

	// Live updates, optionally shared between instances through RabbitMQ.
	hub := live.NewHub()
	storeOpts := []live.StoreOption{live.WithMeterProvider(m.MeterProvider())}
	var bus *broker.Broker
	if cfg.AMQP.URL != "" {
		bus, err = broker.Dial(broker.Config{URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange}, lg.Named("broker"))
		if err != nil {
			return errors.Wrap(err, "connect broker")
		}
		defer func() { _ = bus.Close() }()
		healthSvc.AddReadinessCheck("rabbitmq", 5*time.Second, bus.Ping)
		storeOpts = append(storeOpts, live.WithBroadcaster(bus))
	}
	liveStore, err := live.NewStore(st.orders, hub, storeOpts...)
	if err != nil {
		return errors.Wrap(err, "create live store")
	}
	healthSvc.AddLivenessCheck("live_subscribers", time.Second,
		health.CountCheck("live subscriber", hub.Subscribers, maxLiveSubscribers))

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	orderService, err := order.NewService(st.menus, st.counter, st.orders, liveStore,
		order.WithPermissiveTransitions(cfg.Orders.PermissiveTransitions),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{
			PublicBaseURL: cfg.PublicBaseURL,
			QRServiceURL:  cfg.QRServiceURL,
		},
		handler.Deps{
			Orders:   orderService,
			Stats:    stats.NewService(st.orders, time.UTC),
			Watcher:  tracking.NewWatcher(liveStore),
			Feed:     liveStore,
			Menus:    st.menus,
			Profiles: st.profiles,
			Security: handler.NewSecurityHandler([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer),
		},
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	// Requests outlive the shutdown signal until Shutdown starts, which then
	// ends the open event streams so they do not hold it up.
	streamCtx, stopStreams := context.WithCancel(context.WithoutCancel(ctx))
	defer stopStreams()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Event streams stay open; idle connections are bounded by
		// IdleTimeout and the stream keep-alive instead.
		WriteTimeout:   0,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		BaseContext:    func(net.Listener) context.Context { return streamCtx },
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   isHealthCheck,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("qrmenu-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	server.RegisterOnShutdown(stopStreams)

	g, gCtx := errgroup.WithContext(ctx)
	if bus != nil {
		g.Go(func() error {
			if err := bus.Consume(gCtx, hub.Dispatch); err != nil && gCtx.Err() == nil {
				return errors.Wrap(err, "consume order events")
			}
			return nil
		})
	}
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}
