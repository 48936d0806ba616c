package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/audit"
	consenthandler "custodia/internal/consent/handler"
	consentmetrics "custodia/internal/consent/metrics"
	consentservice "custodia/internal/consent/service"
	consentstore "custodia/internal/consent/store"
	"custodia/internal/credential"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/middleware"
	platformredis "custodia/internal/platform/redis"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	var (
		store   consentstore.Store = consentstore.NewInMemory()
		svcOpts []consentservice.Option
	)
	if cfg.PostgresURL != "" {
		db, err := sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			log.Error("failed to open consent database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = consentstore.NewPostgres(db)
		svcOpts = append(svcOpts, consentservice.WithTx(newConsentPostgresTx(db)))
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	var tokenStore credential.TokenStore = credential.NewInMemoryStore()
	if redisClient != nil {
		defer redisClient.Close()
		tokenStore = credential.NewRedisStore(redisClient.Client)
	}
	issuer := credential.NewIssuer(tokenStore, credential.WithLogger(log))

	auditStore := buildAuditStore(cfg, log)
	if cfg.AuditDBURL != "" || len(cfg.KafkaBrokers) > 0 {
		// Durable sinks add write latency, so decisions enqueue their audit
		// events and a background worker drains them.
		async := audit.NewAsyncStore(auditStore, 256, log)
		workerCtx, stopWorker := context.WithCancel(context.Background())
		defer stopWorker()
		go async.Run(workerCtx)
		auditStore = async
	}
	publisher := audit.NewPublisher(auditStore)

	svcOpts = append(svcOpts,
		consentservice.WithIssuer(issuer),
		consentservice.WithAuditPublisher(publisher),
		consentservice.WithMetrics(consentmetrics.New()),
		consentservice.WithLogger(log),
	)
	if provider := loadVaultSchema(log); provider != nil {
		svcOpts = append(svcOpts, consentservice.WithSchemaProvider(provider))
	}

	svc, err := consentservice.New(store, svcOpts...)
	if err != nil {
		log.Error("failed to build consent service", "error", err)
		os.Exit(1)
	}

	validator := middleware.NewValidator(cfg.JWTSigningKey)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.ClientMetadata)
	router.Use(middleware.Logger(log))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(30 * time.Second))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, log))
		consenthandler.New(svc, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting custodia", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
