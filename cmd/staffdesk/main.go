package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/upeohq/staffdesk/internal/adapter/directory"
	"github.com/upeohq/staffdesk/internal/adapter/email"
	sdhttp "github.com/upeohq/staffdesk/internal/adapter/http"
	"github.com/upeohq/staffdesk/internal/adapter/mpesa"
	sdnats "github.com/upeohq/staffdesk/internal/adapter/nats"
	sdotel "github.com/upeohq/staffdesk/internal/adapter/otel"
	"github.com/upeohq/staffdesk/internal/adapter/postgres"
	"github.com/upeohq/staffdesk/internal/adapter/ristretto"
	"github.com/upeohq/staffdesk/internal/adapter/ws"
	"github.com/upeohq/staffdesk/internal/config"
	"github.com/upeohq/staffdesk/internal/logger"
	"github.com/upeohq/staffdesk/internal/middleware"
	"github.com/upeohq/staffdesk/internal/resilience"
	"github.com/upeohq/staffdesk/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogger := logger.New(cfg.Logging)
	defer closeLogger.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"directory_url", cfg.Directory.URL,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownTelemetry, err := sdotel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	metrics, err := sdotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := sdnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- External clients ---

	dirClient := directory.NewClient(cfg.Directory)
	dirClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	mpesaClient := mpesa.NewClient(cfg.Mpesa)
	mpesaClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	mail := email.NewMailer(cfg.SMTP)

	// --- Services ---

	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	signupSvc := service.NewSignupService(store, queue, hub, log)
	orch := service.NewOrchestrator(store, dirClient, mail, queue, hub, metrics,
		cfg.Provision, cfg.Directory.PageSize, log)
	reducer := service.NewMailLogReducer(store, queue, hub, metrics, cfg.Reconcile, log)
	orch.SetLogObserver(reducer)
	checker := service.NewStatusChecker(mpesaClient, cache,
		cfg.Mpesa.MaxConcurrent, cfg.Mpesa.CacheTTL, log)

	if err := reducer.Start(ctx); err != nil {
		return fmt.Errorf("mail log reducer: %w", err)
	}

	// --- HTTP ---

	handlers := sdhttp.NewHandlers(signupSvc, orch, reducer, checker, queue, log)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(sdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(sdhttp.SecurityHeaders)
	r.Use(sdhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(sdotel.HTTPMiddleware(cfg.Logging.Service))

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()
	r.Use(limiter.Handler)

	r.Use(middleware.Auth(cfg.Auth.TokenHash))

	if kv, err := queue.KeyValue(ctx, "staffdesk-idempotency"); err != nil {
		slog.Warn("idempotency disabled", "error", err)
	} else {
		r.Use(middleware.Idempotency(kv))
	}

	r.Get("/health", healthHandler(queue))
	r.Get("/ws", hub.HandleWS)

	sdhttp.MountRoutes(r, handlers, cfg.Webhook)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports process and dependency health.
func healthHandler(queue *sdnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status string `json:"status"`
		NATS   bool   `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{Status: "ok", NATS: queue.IsConnected()}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
