package api

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/configs"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/ratelimiter"
	healthHandler "github.com/hilthontt/visper-realtime/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/visper-realtime/internal/presentation/handler/messages"
	realtimeHandler "github.com/hilthontt/visper-realtime/internal/presentation/handler/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Application struct {
	config          configs.HTTPConfig
	realtimeHandler *realtimeHandler.Handler
	healthHandler   *healthHandler.Handler
	messagesHandler *messagesHandler.Handler
	logger          logging.Logger
	ratelimiter     ratelimiter.Limiter
	metrics         *metrics.Server
	gatherer        prometheus.Gatherer
	onShutdown      []func()
}

func NewApplication(
	config configs.HTTPConfig,
	realtimeHandler *realtimeHandler.Handler,
	healthHandler *healthHandler.Handler,
	messagesHandler *messagesHandler.Handler,
	logger logging.Logger,
	ratelimiter ratelimiter.Limiter,
	metrics *metrics.Server,
	gatherer prometheus.Gatherer,
) *Application {
	return &Application{
		config:          config,
		realtimeHandler: realtimeHandler,
		healthHandler:   healthHandler,
		messagesHandler: messagesHandler,
		logger:          logger,
		ratelimiter:     ratelimiter,
		metrics:         metrics,
		gatherer:        gatherer,
	}
}

// OnShutdown registers fn to run when Run begins a graceful shutdown.
func (app *Application) OnShutdown(fn func()) {
	app.onShutdown = append(app.onShutdown, fn)
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(app.loggerMiddleware)
	r.Use(app.prometheusMiddleware)
	r.Use(app.enableCors)

	r.Get("/ws", app.realtimeHandler.ServeWebSocket)
	if app.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(app.gatherer))
	}
	r.Handle("/debug/vars", expvar.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Group(func(r chi.Router) {
			r.Use(app.rateLimiterMiddleware)

			r.Route("/chat", func(r chi.Router) {
				r.Post("/send-message", app.messagesHandler.SendMessageHandler)
				r.Get("/{chatId}/messages", app.messagesHandler.ListMessagesHandler)
			})

			r.Route("/realtime/sessions", func(r chi.Router) {
				r.Post("/", app.realtimeHandler.OpenSessionHandler)
				r.Get("/{sessionId}/events", app.realtimeHandler.PollEventsHandler)
				r.Post("/{sessionId}/emit", app.realtimeHandler.EmitHandler)
				r.Delete("/{sessionId}", app.realtimeHandler.CloseSessionHandler)
			})
		})

		r.Get("/health", app.healthHandler.GetHealth)
		r.Get("/healthz", app.healthHandler.GetReady)
		r.Get("/ready", app.healthHandler.GetReady)
		r.Get("/live", app.healthHandler.GetHealth)
	})

	return otelhttp.NewHandler(r, "devserver")
}

func (app *Application) Run(mux http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.Host, app.config.Port),
		Handler:      mux,
		WriteTimeout: app.config.WriteTimeout,
		ReadTimeout:  app.config.ReadTimeout,
		IdleTimeout:  time.Minute,
	}
	for _, fn := range app.onShutdown {
		srv.RegisterOnShutdown(fn)
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Info(logging.General, logging.Shutdown, "signal caught", map[logging.ExtraKey]any{
			logging.Event: s.String(),
		})

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		logging.URL: srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		logging.URL: srv.Addr,
	})

	return nil
}
