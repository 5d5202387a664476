package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vkovalenko/groomly/libs/config"
	"github.com/vkovalenko/groomly/libs/db"
	"github.com/vkovalenko/groomly/libs/httpx"
	"github.com/vkovalenko/groomly/libs/kafkax"
	otelx "github.com/vkovalenko/groomly/libs/otel"
	"github.com/vkovalenko/groomly/libs/runtime"
	"github.com/vkovalenko/groomly/libs/telegram"
	"github.com/vkovalenko/groomly/services/booking-service/internal/handlers"
	"github.com/vkovalenko/groomly/services/booking-service/internal/outbox"
	"github.com/vkovalenko/groomly/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8081")
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

	botToken, err := config.RequiredString("TELEGRAM_BOT_TOKEN")
	if err != nil {
		panic(err)
	}
	initDataMaxAge := config.Duration("INIT_DATA_MAX_AGE", 24*time.Hour)
	validator := telegram.NewValidator(botToken, initDataMaxAge)

	var notifier telegram.Sender = telegram.NewBotSender(botToken, config.String("TELEGRAM_API_BASE", ""))
	if !config.Bool("TELEGRAM_NOTIFY_ENABLED", true) {
		notifier = telegram.NewNoopSender()
		logger.Info("telegram notifications disabled")
	}

	catalogRepo := storage.NewCatalogRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	bookingRepo := storage.NewBookingRepository(pool, outboxRepo)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	publicHandler := handlers.NewPublicHandler(catalogRepo, bookingRepo, logger)
	bookingHandler := handlers.NewBookingHandler(catalogRepo, bookingRepo, notifier, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)

	mux.HandleFunc("/api/v1/public/profile", publicHandler.Profile)
	mux.HandleFunc("/api/v1/public/services", publicHandler.Services)
	mux.HandleFunc("/api/v1/public/schedule", publicHandler.Schedule)
	mux.HandleFunc("/api/v1/public/slots", publicHandler.Slots)

	requireUser := telegram.RequireUser(validator)
	mux.Handle("/api/v1/public/book", requireUser(http.HandlerFunc(bookingHandler.Create)))
	mux.Handle("/api/v1/appointments", requireUser(http.HandlerFunc(bookingHandler.List)))
	mux.Handle("/api/v1/appointments/confirm", requireUser(http.HandlerFunc(bookingHandler.Confirm)))
	mux.Handle("/api/v1/appointments/cancel", requireUser(http.HandlerFunc(bookingHandler.Cancel)))
	mux.Handle("/api/v1/appointments/complete", requireUser(http.HandlerFunc(bookingHandler.Complete)))

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       0,
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:booking"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	var corsOrigins []string
	for _, o := range strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	corsMW := httpx.WithCORS(httpx.CORSPolicy{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", telegram.InitDataHeader, "Idempotency-Key"},
		MaxAge:         10 * time.Minute,
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		corsMW,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
		rateLimitMW,
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
