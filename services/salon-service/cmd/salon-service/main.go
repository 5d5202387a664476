package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vkovalenko/groomly/libs/config"
	"github.com/vkovalenko/groomly/libs/db"
	"github.com/vkovalenko/groomly/libs/httpx"
	otelx "github.com/vkovalenko/groomly/libs/otel"
	"github.com/vkovalenko/groomly/libs/runtime"
	"github.com/vkovalenko/groomly/libs/telegram"
	"github.com/vkovalenko/groomly/services/salon-service/internal/handlers"
	"github.com/vkovalenko/groomly/services/salon-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "salon-service")
	port, err := config.Port("PORT", "8082")
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

	repo := storage.NewRepository(pool)
	httpHandler := handlers.New(repo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	requireUser := telegram.RequireUser(validator)

	mux.Handle("/api/v1/salon/profile", requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.GetProfile(w, r)
			return
		}
		if r.Method == http.MethodPut {
			httpHandler.UpdateProfile(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})))
	mux.Handle("/api/v1/salon/services", requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListServices(w, r)
		case http.MethodPost:
			httpHandler.CreateService(w, r)
		case http.MethodPut:
			httpHandler.UpdateService(w, r)
		case http.MethodDelete:
			httpHandler.DeleteService(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))
	mux.Handle("/api/v1/salon/working-hours", requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			httpHandler.ListWorkingHours(w, r)
			return
		}
		if r.Method == http.MethodPut {
			httpHandler.ReplaceWorkingHours(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})))

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
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", telegram.InitDataHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "salon")
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
