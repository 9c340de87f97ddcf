package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/STEPHANAS-SOFT/Bookora/libs/config"
	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
	"github.com/STEPHANAS-SOFT/Bookora/libs/httpx"
	"github.com/STEPHANAS-SOFT/Bookora/libs/kafkax"
	otelx "github.com/STEPHANAS-SOFT/Bookora/libs/otel"
	"github.com/STEPHANAS-SOFT/Bookora/libs/runtime"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/booking"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/handlers"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/outbox"
	"github.com/STEPHANAS-SOFT/Bookora/services/booking-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	repo := storage.NewAppointmentRepository(pool)
	sched := storage.NewScheduleRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	engine := booking.NewService(repo, sched, outbox.NewSink(outboxRepo), logger, booking.Config{
		CancellationLeadTime: config.Minutes("CANCELLATION_LEAD_MINUTES", booking.DefaultCancellationLeadTime),
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}

	// Public booking endpoints are rate limited per client IP: through redis
	// when configured so the limit holds across replicas, otherwise with the
	// in-process limiter.
	rateLimit := config.Int("PUBLIC_RATE_LIMIT", 60)
	rateWindow := config.Minutes("PUBLIC_RATE_WINDOW_MINUTES", time.Minute)
	var publicLimiter httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimit, rateWindow, "booking")
		publicLimiter = limiter.Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
		logger.Info("rate limiting enabled (redis)", "limit", rateLimit, "redis_addr", redisAddr)
	} else {
		publicLimiter = httpx.NewRateLimiter(rateLimit, rateWindow).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "limit", rateLimit)
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.NewBookingHandler(engine, repo, sched, logger).Register(mux, publicLimiter)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithPrincipal,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
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
