package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hisens-cloud/internal/alarms/notify"
	"hisens-cloud/internal/audit"
	"hisens-cloud/internal/auth"
	"hisens-cloud/internal/config"
	"hisens-cloud/internal/logging"
	"hisens-cloud/internal/observability/metrics"
	"hisens-cloud/internal/realtime"
	"hisens-cloud/internal/settings"
	"hisens-cloud/internal/telemetry/application"
	telemetrypostgres "hisens-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "hisens-cloud/internal/telemetry/interfaces/http"
	telemetrymqtt "hisens-cloud/internal/telemetry/interfaces/mqtt"
	"hisens-cloud/internal/users"
)

const (
	serviceName     = "hisens-cloud"
	shutdownTimeout = 20 * time.Second
	healthTimeout   = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			logger.Fatal("issue token", zap.Error(err))
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// issueToken prints a signed bearer token: token <username> <role> [ttl].
func issueToken(cfg config.Config, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: token <username> <Admin|Supervisor|Tecnico> [ttl]")
	}
	role, ok := auth.NormalizeRole(args[1])
	if !ok {
		return fmt.Errorf("unknown role %q", args[1])
	}
	ttl := 12 * time.Hour
	if len(args) > 2 {
		parsed, err := time.ParseDuration(args[2])
		if err != nil {
			return err
		}
		ttl = parsed
	}
	token, err := auth.IssueJWT([]byte(cfg.Auth.JWTSecret), args[0], role, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	metrics.Init(db, logger)

	settingsService, err := settings.NewService(db)
	if err != nil {
		return err
	}
	settingsHandler, err := settings.NewHandler(settingsService)
	if err != nil {
		return err
	}
	logsHandler, err := audit.NewLogsHandler(audit.NewRepository(db))
	if err != nil {
		return err
	}

	hub := realtime.NewHub(cfg.Live.ClientBuffer, logger)
	if cfg.Redis.Addr != "" {
		relay, err := realtime.NewRedisRelay(
			realtime.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB),
			cfg.Redis.Channel, hub, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := relay.Run(ctx); err != nil {
				logger.Error("live relay stopped", zap.Error(err))
			}
		}()
	}

	dispatcherOpts := []notify.Option{
		notify.WithWorkers(cfg.Alerts.Workers),
		notify.WithQueueSize(cfg.Alerts.QueueSize),
		notify.WithSendTimeout(cfg.Alerts.SendTimeout),
		notify.WithCooldown(cfg.Alerts.Cooldown),
		notify.WithLogger(logger),
	}
	if cfg.Alerts.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.Alerts.WebhookURL, notify.WithWebhookTimeout(cfg.Alerts.SendTimeout))
		if err != nil {
			return err
		}
		dispatcherOpts = append(dispatcherOpts, notify.WithChannel(notify.NewMultiChannel(webhook)))
	}
	dispatcher, err := notify.NewDispatcher(settingsService, users.NewRepository(db), notify.NewSMTPMailer(cfg.Alerts.SendTimeout), dispatcherOpts...)
	if err != nil {
		return err
	}
	dispatcher.Start()

	uow, err := telemetrypostgres.NewUnitOfWork(db)
	if err != nil {
		return err
	}
	ingestService, err := application.NewIngestService(uow,
		application.WithNotifier(hub),
		application.WithAlertEnqueuer(dispatcher),
		application.WithMaxAttempts(cfg.Ingest.MaxAttempts),
		application.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	nodeService, err := application.NewNodeService(uow, nil, logger)
	if err != nil {
		return err
	}
	queryService, err := application.NewQueryService(telemetrypostgres.NewTelemetryQuery(db), settingsService, nil)
	if err != nil {
		return err
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
	if err != nil {
		return err
	}
	telemetryHandler, err := telemetryhttp.NewHandler(queryService, nodeService)
	if err != nil {
		return err
	}

	var consumer *telemetrymqtt.Consumer
	if cfg.MQTT.Broker != "" {
		consumer, err = telemetrymqtt.NewConsumer(cfg.MQTT, cfg.Auth.IngestAPIKey, ingestService, logger)
		if err != nil {
			return err
		}
		if err := consumer.Start(); err != nil {
			return err
		}
	}

	policy := auth.NewDefaultPolicy([]string{"/api/lectura", "/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy, logger)
	ingestAuth := auth.NewIngestAuthMiddleware(cfg.Auth.IngestAPIKey)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))
	r.Use(authMiddleware.Wrap)

	r.Method(http.MethodPost, "/api/lectura", ingestAuth.Wrap(ingestHandler))
	r.Handle("/api/sensores", telemetryHandler)
	r.Handle("/api/sensores/estado-actual", telemetryHandler)
	r.Handle("/api/sensores/crear", telemetryHandler)
	r.Handle("/api/sensor/*", telemetryHandler)
	r.Handle("/api/nodos", telemetryHandler)
	r.Handle("/api/nodos/*", telemetryHandler)
	r.Handle("/api/logs/*", logsHandler)
	r.Handle("/api/configuracion", settingsHandler)
	r.Handle("/api/stream", realtime.NewStreamHandler(hub))
	r.Handle("/ws", realtime.NewWebSocketHandler(hub, cfg.Live.AllowedOrigins, logger))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler(db))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if consumer != nil {
		consumer.Stop()
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("alert dispatcher did not drain", zap.Error(err))
	}
	return nil
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("ip", audit.ClientIP(r)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
