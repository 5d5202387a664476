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
	otelx "github.com/vkovalenko/groomly/libs/otel"
	"github.com/vkovalenko/groomly/libs/runtime"
	"github.com/vkovalenko/groomly/libs/telegram"
	"github.com/vkovalenko/groomly/services/reminder-service/internal/jobs"
)

func main() {
	service := config.String("SERVICE_NAME", "reminder-service")
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

	botToken, err := config.RequiredString("TELEGRAM_BOT_TOKEN")
	if err != nil {
		panic(err)
	}
	var notifier telegram.Sender = telegram.NewBotSender(botToken, config.String("TELEGRAM_API_BASE", ""))
	if !config.Bool("TELEGRAM_NOTIFY_ENABLED", true) {
		notifier = telegram.NewNoopSender()
		logger.Info("telegram notifications disabled")
	}

	var locker jobs.Locker = jobs.NoopLocker{}
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       0,
		})
		defer func() { _ = rdb.Close() }()
		locker = jobs.NewRedisLocker(rdb)
		logger.Info("run lock enabled (redis)", "redis_addr", addr)
	}

	repo := jobs.NewRepository(pool)
	worker := jobs.NewWorker(repo, notifier, locker, logger, jobs.WorkerConfig{
		Interval:    config.Duration("REMINDER_INTERVAL", time.Minute),
		SendTimeout: config.Duration("SEND_TIMEOUT", 5*time.Second),
	})
	go worker.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
