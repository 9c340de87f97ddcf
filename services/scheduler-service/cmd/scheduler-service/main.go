package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/STEPHANAS-SOFT/Bookora/libs/config"
	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
	"github.com/STEPHANAS-SOFT/Bookora/libs/httpx"
	"github.com/STEPHANAS-SOFT/Bookora/libs/kafkax"
	otelx "github.com/STEPHANAS-SOFT/Bookora/libs/otel"
	"github.com/STEPHANAS-SOFT/Bookora/libs/runtime"
	"github.com/STEPHANAS-SOFT/Bookora/services/scheduler-service/internal/outbox"
	"github.com/STEPHANAS-SOFT/Bookora/services/scheduler-service/internal/sweep"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := sweep.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	dispatcher := outbox.NewDispatcher(outboxRepo)

	reminders, err := sweep.NewReminderSweeper(repo, dispatcher, logger, sweep.ReminderConfig{
		Interval:  config.Minutes("SWEEP_INTERVAL_MINUTES", 5*time.Minute),
		Window:    config.Minutes("REMINDER_WINDOW_MINUTES", sweep.DefaultWindow),
		BatchSize: config.Int("SWEEP_BATCH_SIZE", 100),
	})
	if err != nil {
		logger.Error("reminder sweeper config invalid", "err", err)
		panic(err)
	}
	go reminders.Run(ctx)

	cleanup := sweep.NewCleanupSweeper(repo, dispatcher, logger, sweep.CleanupConfig{
		Interval:  config.Minutes("CLEANUP_INTERVAL_MINUTES", 15*time.Minute),
		Grace:     config.Minutes("NO_SHOW_GRACE_MINUTES", sweep.DefaultGrace),
		BatchSize: config.Int("SWEEP_BATCH_SIZE", 100),
	})
	go cleanup.Run(ctx)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
