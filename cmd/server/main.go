// Command server runs the verification and application-status engine.
// main only wires dependencies; behavior lives in the internal packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	applicationsvc "fundgate/internal/application"
	applicationhandler "fundgate/internal/application/handler"
	appstore "fundgate/internal/application/store/app"
	"fundgate/internal/audit"
	audithandler "fundgate/internal/audit/handler"
	auditmetrics "fundgate/internal/audit/metrics"
	"fundgate/internal/audit/publisher"
	auditmemory "fundgate/internal/audit/store/memory"
	auditpostgres "fundgate/internal/audit/store/postgres"
	httpapi "fundgate/internal/http"
	"fundgate/internal/integration"
	integrationhandler "fundgate/internal/integration/handler"
	eventstore "fundgate/internal/integration/store/event"
	"fundgate/internal/platform/config"
	"fundgate/internal/platform/httpserver"
	"fundgate/internal/platform/logger"
	"fundgate/internal/platform/postgres"
	redisplatform "fundgate/internal/platform/redis"
	"fundgate/internal/verification"
	"fundgate/internal/verification/credas"
	verificationhandler "fundgate/internal/verification/handler"
	contactstore "fundgate/internal/verification/store/contact"
	profilestore "fundgate/internal/verification/store/profile"
	"fundgate/internal/webhook"
	webhookmetrics "fundgate/internal/webhook/metrics"
	"fundgate/pkg/platform/middleware/auth"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	db, err := postgres.Open(cfg.PostgresURL)
	if err != nil {
		log.Error("postgres open failed", "error", err)
		os.Exit(1)
	}
	if db == nil {
		log.Warn("no DATABASE_URL set, using in-memory stores")
	}

	cache, err := redisplatform.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect failed", "error", err)
		os.Exit(1)
	}

	// Stores: Postgres when configured, in-memory otherwise.
	var (
		auditStore   audit.Store
		eventStorage integration.Store
		profiles     verification.Store
		directory    verification.ContactDirectory
		apps         applicationsvc.Store
	)
	if db != nil {
		auditStore = auditpostgres.New(db)
		eventStorage = eventstore.NewPostgres(db)
		profiles = profilestore.NewPostgres(db)
		directory = contactstore.NewPostgres(db)
		apps = appstore.NewPostgres(db)
	} else {
		auditStore = auditmemory.NewInMemoryStore()
		eventStorage = eventstore.NewInMemory()
		profiles = profilestore.NewInMemory()
		directory = contactstore.NewInMemory()
		apps = appstore.NewInMemory()
	}

	// Audit ledger, optionally mirrored to Kafka.
	auditOpts := []audit.Option{audit.WithMetrics(auditmetrics.New())}
	var kafka *publisher.Kafka
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err = publisher.NewKafka(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log)
		if err != nil {
			log.Error("kafka audit mirror init failed", "error", err)
			os.Exit(1)
		}
		auditOpts = append(auditOpts, audit.WithPublisher(kafka))
	}
	recorder := audit.NewRecorder(auditStore, log, auditOpts...)

	// Provider and services.
	provider := credas.New(credas.Config{
		APIKey:     cfg.Credas.APIKey,
		BaseURL:    cfg.Credas.BaseURL,
		JourneyID:  cfg.Credas.JourneyID,
		WebhookURL: cfg.Credas.WebhookURL,
		Timeout:    cfg.Credas.RequestTimeout,
	}, log)
	if !provider.Configured() {
		log.Warn("CREDAS_API_KEY not set, verification requests will be rejected")
	}

	events := integration.NewService(eventStorage, log,
		integration.WithDispatcher(verification.NewDispatcher(profiles, provider, log)),
		integration.WithAuditRecorder(recorder),
		integration.WithMaxRetries(cfg.Integration.MaxRetries),
	)
	verificationSvc := verification.NewService(profiles, directory, provider, events, log,
		verification.WithAuditRecorder(recorder),
		verification.WithCache(cache),
		verification.WithFailMode(verification.FailMode(cfg.Credas.SummaryFailMode)),
	)
	applicationSvc := applicationsvc.NewService(apps, verificationSvc, log,
		applicationsvc.WithAuditRecorder(recorder),
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:       log,
		Verifier:     auth.NewVerifier(cfg.JWTSigningKey),
		Verification: verificationhandler.New(verificationSvc, log),
		Applications: applicationhandler.New(applicationSvc, log),
		Webhook: webhook.New(verificationSvc, events, log,
			webhook.WithMetrics(webhookmetrics.New()),
			webhook.WithCache(cache),
		),
		Audit:       audithandler.New(recorder, log),
		Integration: integrationhandler.New(events, log),
		DB:          db,
		Redis:       cache,
	})

	srv := httpserver.New(cfg.Addr, router)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if kafka != nil {
			_ = kafka.Close(shutdownCtx)
		}
		if cache != nil {
			_ = cache.Close()
		}
		if db != nil {
			_ = db.Close()
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
