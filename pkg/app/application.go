package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"medslots/internal/broadcast"
	"medslots/internal/reservations/handler"
	"medslots/internal/reservations/repository"
	"medslots/internal/reservations/service"
	"medslots/internal/reservations/validator"
	"medslots/internal/slots"
	"medslots/pkg/config"
	"medslots/pkg/contracts"
	mongotx "medslots/pkg/db/mongo"
	kafka_config "medslots/pkg/kafka/config"
	"medslots/pkg/metrics"
	"medslots/pkg/middleware"

	"github.com/julienschmidt/httprouter"
)

type Application struct {
	cfg              *config.Config
	server           *http.Server
	metrics          *metrics.Metrics
	idempotencyStore middleware.IdempotencyStore
	rateLimiter      *middleware.UserRateLimiter
	broadcaster      *broadcast.Broadcaster
	relay            *broadcast.KafkaRelay
	reaper           *service.Reaper
	healthHandler    http.Handler
	appHttpHandler   http.Handler
	cancel           context.CancelFunc
}

func NewApplication(cfg *config.Config) *Application {
	return &Application{cfg: cfg}
}

// SetApp builds the reservation core for the configured backend and the HTTP
// stack in front of it. Background workers start in Run.
func (a *Application) SetApp() error {
	if a.cfg.MetricsEnabled {
		a.metrics = metrics.New()
	}

	a.cfg.SetRedis()
	manager, store, err := a.setCore()
	if err != nil {
		return err
	}

	resolver := service.NewResolver(manager, a.cfg.Log)
	a.reaper = service.NewReaper(service.ReaperConfig{
		Interval:  a.cfg.ReaperInterval,
		BatchSize: a.cfg.ReaperBatchSize,
	}, store, manager, a.cfg.Log, a.metrics)

	handlerLog := a.cfg.Log.Component("http")
	a.setHealthHandler()
	a.setAppHandler(
		handler.NewReservationHandler(manager, resolver, handlerLog),
		handler.NewRealtimeHandler(a.broadcaster, manager, a.cfg.SnapshotInterval, handlerLog),
	)
	a.setAppServer()
	return nil
}

func (a *Application) setCore() (*service.Manager, slots.Store, error) {
	calendar, err := a.loadCalendar()
	if err != nil {
		return nil, nil, err
	}

	var (
		store slots.Store
		repo  repository.AppointmentRepository
		tx    mongotx.TransactionManager
	)
	if a.cfg.UsesMongo() {
		a.cfg.SetMongo()
		store = slots.NewMongoStore(a.cfg, calendar)
		repo = repository.NewMongoAppointmentRepository(a.cfg)
		tx = mongotx.NewTransactionManager(a.cfg.Client.Mongo)
	} else {
		store = slots.NewMemoryStore(calendar)
		repo = repository.NewMemoryAppointmentRepository()
		tx = mongotx.NoopTransactionManager{}
	}
	a.cfg.Log.Info("Slot store configured", "backend", a.cfg.StoreBackend)

	a.broadcaster = broadcast.NewBroadcaster(a.cfg.SubscriberBuffer, a.cfg.Log, a.metrics)
	var publisher service.EventPublisher = a.broadcaster
	if a.cfg.EventsRelayEnabled {
		kafkaCfg, err := kafka_config.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("load kafka config: %w", err)
		}
		kafkaCfg.LogConfiguration(a.cfg.Log)
		a.relay, err = broadcast.NewKafkaRelay(kafkaCfg, a.cfg.EventsTopic, a.cfg.EventsRelayQueue, a.broadcaster, a.cfg.Log, a.metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("create event relay: %w", err)
		}
		publisher = a.relay
	}

	manager := service.NewManager(
		store,
		repo,
		validator.NewReservationValidator(a.cfg.Log),
		publisher,
		tx,
		a.cfg,
		service.WithMetrics(a.metrics),
	)
	return manager, store, nil
}

func (a *Application) loadCalendar() (*slots.Calendar, error) {
	fallback := slots.Schedule{
		StartOfDay:  a.cfg.DefaultStartOfDay,
		EndOfDay:    a.cfg.DefaultEndOfDay,
		SlotMinutes: a.cfg.DefaultSlotMinutes,
		WorkingDays: a.cfg.DefaultWorkingDays,
	}
	if a.cfg.CalendarFile == "" {
		return slots.NewCalendar(fallback, nil)
	}
	calendar, err := slots.LoadCalendar(a.cfg.CalendarFile, fallback)
	if err != nil {
		return nil, err
	}
	a.cfg.Log.Info("Calendar loaded", "path", a.cfg.CalendarFile)
	return calendar, nil
}

func (a *Application) setHealthHandler() {
	healthRouter := httprouter.New()
	healthHandler := handler.NewHealthHandler(a.cfg.Client.Mongo, a.cfg.Client.Redis, a.cfg.Log)
	healthHandler.RegisterRoutes(healthRouter)

	var healthHTTPHandler http.Handler = healthRouter
	healthHTTPHandler = middleware.RequestLogging(a.cfg.Log)(healthHTTPHandler)
	healthHTTPHandler = middleware.Recovery(a.cfg.Log)(healthHTTPHandler)
	a.healthHandler = healthHTTPHandler
	a.cfg.Log.Info("Health endpoints configured with minimal middleware (Recovery + Logging only)")
}

func (a *Application) setAppHandler(handlers ...contracts.Handler) {
	appRouter := httprouter.New()
	for _, h := range handlers {
		h.RegisterRoutes(appRouter)
	}

	if a.cfg.Client.Redis != nil {
		a.idempotencyStore = middleware.NewRedisIdempotencyStore(a.cfg.Client.Redis, a.cfg.IdempotencyTTL, a.cfg.Log)
		a.cfg.Log.Info("Idempotency keys stored in Redis")
	} else {
		a.idempotencyStore = middleware.NewInMemoryIdempotencyStore(a.cfg.IdempotencyTTL)
	}
	a.rateLimiter = middleware.NewUserRateLimiter(
		a.cfg.RateLimitRequests,
		a.cfg.RateLimitWindow,
		middleware.DefaultUserExtractor,
		a.cfg.Log,
	)

	// Recovery → Logging → Metrics → MaxSize → ContentType → RateLimit → Timeout → Idempotency → Router
	var appHttpHandler http.Handler = appRouter
	appHttpHandler = middleware.Idempotency(a.idempotencyStore, "Idempotency-Key", a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.RequestTimeout(a.cfg.RequestTimeout)(appHttpHandler)
	appHttpHandler = middleware.UserRateLimit(a.rateLimiter)(appHttpHandler)
	appHttpHandler = middleware.ContentTypeValidation(a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.MaxRequestSize(int64(a.cfg.MaxRequestSize))(appHttpHandler)
	if a.metrics != nil {
		appHttpHandler = middleware.Metrics(a.metrics)(appHttpHandler)
	}
	appHttpHandler = middleware.RequestLogging(a.cfg.Log)(appHttpHandler)
	appHttpHandler = middleware.Recovery(a.cfg.Log)(appHttpHandler)
	a.appHttpHandler = appHttpHandler
	a.cfg.Log.Info("Application endpoints configured with full middleware stack")
}

func (a *Application) setAppServer() {
	mux := http.NewServeMux()
	mux.Handle("/health", a.healthHandler)
	mux.Handle("/ready", a.healthHandler)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	mux.Handle("/", a.appHttpHandler)

	a.server = &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      mux,
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	a.cfg.Log.Info("HTTP server configured", "port", a.cfg.Port)
}

// Handler exposes the assembled routes, mainly for tests.
func (a *Application) Handler() http.Handler {
	return a.server.Handler
}

func (a *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.reaper.Start(ctx)
	if a.relay != nil {
		a.relay.Start(ctx)
	}

	serverErrors := make(chan error, 1)

	go func() {
		a.cfg.Log.Info("Starting HTTP server", "address", a.server.Addr)
		serverErrors <- a.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		a.cfg.Log.Fatal("HTTP server failed", "error", err)

	case sig := <-shutdown:
		a.cfg.Log.Info("Shutdown signal received", "signal", sig)
		a.gracefulShutdown()
	}
}

func (a *Application) gracefulShutdown() {
	a.cfg.Log.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	// Closing subscribers ends the open WebSocket streams.
	a.broadcaster.Close()
	if err := a.server.Shutdown(ctx); err != nil {
		a.cfg.Log.Error("Server shutdown failed", "error", err)
		if err := a.server.Close(); err != nil {
			a.cfg.Log.Fatal("Could not stop server gracefully", "error", err)
		}
	}

	a.cfg.Log.Info("Stopping background workers...")
	a.reaper.Stop()
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.cfg.Log.Error("Event relay shutdown failed", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.idempotencyStore.Stop()
	a.rateLimiter.Stop()
	a.cfg.Log.Info("Background workers stopped")

	a.cfg.GracefulShutdown()
	a.cfg.Log.Info("Server stopped gracefully")
}
