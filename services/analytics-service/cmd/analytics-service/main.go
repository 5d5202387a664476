package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/vkovalenko/groomly/libs/config"
	"github.com/vkovalenko/groomly/libs/db"
	"github.com/vkovalenko/groomly/libs/httpx"
	"github.com/vkovalenko/groomly/libs/kafkax"
	otelx "github.com/vkovalenko/groomly/libs/otel"
	"github.com/vkovalenko/groomly/libs/runtime"
	"github.com/vkovalenko/groomly/libs/telegram"
	"github.com/vkovalenko/groomly/services/analytics-service/internal/consumer"
	"github.com/vkovalenko/groomly/services/analytics-service/internal/handlers"
	"github.com/vkovalenko/groomly/services/analytics-service/internal/inbox"
	"github.com/vkovalenko/groomly/services/analytics-service/internal/rollup"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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
	validator := telegram.NewValidator(botToken, config.Duration("INIT_DATA_MAX_AGE", 24*time.Hour))

	inboxRepo := inbox.NewRepository(pool)
	rollupRepo := rollup.NewRepository(pool)

	handle := func(ctx context.Context, msg kafka.Message) error {
		kind, ok := rollup.KindFromTopic(msg.Topic)
		if !ok {
			logger.Warn("unexpected topic", "topic", msg.Topic)
			return nil
		}
		evt, day, err := rollup.ParseEvent(msg.Value)
		if err != nil {
			// Malformed payloads are dropped, not retried.
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if err := rollupRepo.Apply(ctx, kind, evt.MasterID, day, evt.Price); err != nil {
			return err
		}
		logger.Info("rollup applied", "kind", string(kind), "master_id", evt.MasterID, "day", day.Format("2006-01-02"))
		return nil
	}

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "analytics-service")
	for _, topic := range rollup.Topics() {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handle)
		go c.Run(ctx)
	}

	statsHandler := handlers.NewStatsHandler(rollupRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	requireUser := telegram.RequireUser(validator)
	mux.Handle("/api/v1/analytics/stats", requireUser(http.HandlerFunc(statsHandler.Stats)))

	var corsOrigins []string
	for _, o := range strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", telegram.InitDataHeader},
			MaxAge:         10 * time.Minute,
		}),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
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
