// The auth-consent server wires storage, the idempotency ledger, background
// workers, and the HTTP surface, then runs until interrupted.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"authconsent/internal/audit"
	"authconsent/internal/auth"
	"authconsent/internal/consent/handler"
	"authconsent/internal/consent/idempotency"
	"authconsent/internal/consent/service"
	"authconsent/internal/consent/store"
	"authconsent/internal/consent/sweeper"
	"authconsent/internal/platform/config"
	"authconsent/internal/platform/httpserver"
	"authconsent/internal/platform/logger"
	"authconsent/internal/platform/metrics"
	"authconsent/internal/platform/otel"
	"authconsent/internal/platform/postgres"
	"authconsent/internal/platform/redis"
	httptransport "authconsent/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := otel.Setup(ctx, "auth-consent", cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()
	consentStore := store.NewPostgres(db)

	var ledger idempotency.Ledger
	healthChecks := map[string]httptransport.HealthCheck{
		"postgres": func(ctx context.Context) error { return postgres.Health(ctx, db) },
	}
	if redisClient != nil {
		ledger = idempotency.NewRedisLedger(redisClient.Client)
		healthChecks["redis"] = redisClient.Health
	} else {
		log.Warn("redis not configured, consent creation runs without idempotency")
	}

	auditInbox := make(chan audit.Event, cfg.AuditBuffer)
	auditWorker := audit.NewWorker(audit.NewPostgresStore(db), auditInbox, log)
	publisher := audit.NewPublisher(auditInbox, m.AuditEventsDropped)

	svc, err := service.New(service.Config{
		Store:     consentStore,
		Ledger:    ledger,
		Metrics:   m,
		Audit:     publisher,
		Logger:    log,
		BaseURL:   cfg.BaseURL,
		MaxExpiry: cfg.MaxConsentExpiry,
	})
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	router := httptransport.NewRouter(httptransport.Config{
		Logger:       log,
		Metrics:      m,
		Consent:      handler.New(svc, verifier, log),
		HealthChecks: healthChecks,
	})
	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return auditWorker.Run(groupCtx)
	})

	if cfg.SweepEnabled {
		sw := sweeper.New(consentStore, cfg.SweepInterval, log)
		group.Go(func() error {
			return sw.Run(groupCtx)
		})
	}

	group.Go(func() error {
		log.Info("starting auth-consent", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
