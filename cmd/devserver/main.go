package main

import (
	"context"
	"expvar"
	"flag"
	"log"
	"runtime"
	"time"

	"github.com/hilthontt/visper-realtime/internal/infrastructure/configs"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/events"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/messaging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/moderation"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/repository"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/tracing"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/ws"
	"github.com/hilthontt/visper-realtime/internal/presentation/api"
	"github.com/hilthontt/visper-realtime/internal/presentation/handler/health"
	"github.com/hilthontt/visper-realtime/internal/presentation/handler/messages"
	"github.com/hilthontt/visper-realtime/internal/presentation/handler/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "visper-devserver"

func main() {
	configFlag := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := configs.Load(configs.DetermineConfigPath(*configFlag))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg.Tracing.ServiceName = serviceName
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize the tracer: %v", err)
	}
	defer shutdownTracer(context.Background())

	logger := logging.NewLogger(cfg.Logger)
	dev := cfg.DevServer

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServer(reg)

	filter := moderation.NewFilter(dev.Moderation.BannedWords)
	messageRepository := repository.NewMessageRepository(dev.MessageStore.Capacity)

	coreOpts := ws.CoreOptions{
		Messages:  messageRepository,
		Moderator: filter,
		Metrics:   serverMetrics,
		Logger:    logger,
	}

	var rabbitmq *messaging.RabbitMQ
	if dev.RabbitMQ.Enabled {
		rabbitmq, err = messaging.NewRabbitMQ(dev.RabbitMQ.URI, logger)
		if err != nil {
			logger.Fatal(logging.RabbitMQ, logging.Startup, err.Error(), nil)
		}
		defer rabbitmq.Close()

		logger.Info(logging.RabbitMQ, logging.Startup, "connected to RabbitMQ", nil)
		coreOpts.Publisher = events.NewMessagePublisher(rabbitmq)
	}

	wsCore := ws.NewCore(coreOpts)
	go wsCore.Run(ctx)

	if rabbitmq != nil {
		consumer := events.NewModerationConsumer(rabbitmq, wsCore)
		go func() {
			if err := consumer.Listen(ctx); err != nil && ctx.Err() == nil {
				logger.Error(logging.RabbitMQ, logging.Consume, err.Error(), nil)
			}
		}()
	}

	sessions := ws.NewPollSessions(wsCore, cfg.Connection.SendBuffer, logger)
	// A session with no poll in flight for two poll windows is abandoned.
	go sessions.Reap(ctx, 2*cfg.Connection.PollWait, 15*time.Second)

	rl := ratelimiter.New(ratelimiter.Options{
		MaxRatePerSecond: dev.RateLimiter.MaxRatePerSecond,
		MaxBurst:         dev.RateLimiter.MaxBurst,
		CacheTTL:         dev.RateLimiter.CacheTTL,
		SourceHeaderKey:  dev.RateLimiter.SourceHeaderKey,
	})

	app := api.NewApplication(
		dev.HTTP,
		realtime.NewHandler(wsCore, sessions, logger),
		health.NewHandler(map[string]health.Check{"hub": wsCore.Alive}),
		messages.NewHandler(messageRepository, wsCore, logger),
		logger,
		rl,
		serverMetrics,
		reg,
	)
	app.OnShutdown(cancel)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	logger.Info(logging.General, logging.Startup, "dev server configured", map[logging.ExtraKey]any{
		logging.Count: filter.Len(),
	})

	mux := app.Mount()
	if err := app.Run(mux); err != nil {
		logger.Fatal(logging.General, logging.Shutdown, err.Error(), nil)
	}
}
