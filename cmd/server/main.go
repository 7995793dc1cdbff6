// Command server wires the bond ledger's dependencies and runs the HTTP
// surface. Business logic lives in the internal service packages; this file
// only selects implementations from config and manages the lifecycle.
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

	"bondledger/internal/audit"
	"bondledger/internal/compliance"
	compliancehandler "bondledger/internal/compliance/handler"
	"bondledger/internal/identity"
	"bondledger/internal/jwtauth"
	"bondledger/internal/ledger"
	ledgerhandler "bondledger/internal/ledger/handler"
	"bondledger/internal/payment"
	"bondledger/internal/platform/config"
	"bondledger/internal/platform/httpserver"
	"bondledger/internal/platform/logger"
	"bondledger/internal/platform/metrics"
	"bondledger/internal/platform/postgres"
	redisplatform "bondledger/internal/platform/redis"
	httptransport "bondledger/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store selection: Postgres when configured, in-memory otherwise.
	var (
		complianceStore compliance.Store   = compliance.NewInMemoryStore()
		ledgerStore     ledger.Store       = ledger.NewInMemoryStore()
		auditStore      audit.Store        = audit.NewInMemoryStore()
		routerOpts      []httptransport.Option
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			log.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		complianceStore = compliance.NewPostgres(db)
		ledgerStore = ledger.NewPostgres(db)
		auditStore = audit.NewPostgres(db)
		routerOpts = append(routerOpts, httptransport.WithHealthCheck("postgres", dbHealth{db: db}))
	}

	var publisherOpts []audit.PublisherOption
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("failed to connect kafka event sink", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		publisherOpts = append(publisherOpts, audit.WithSink(sink))
	}
	publisher := audit.NewPublisher(auditStore, log, publisherOpts...)

	// Identity gate: in-memory provider, optionally fronted by Redis so
	// clearance answers are shared across replicas.
	var gate identity.Gate = identity.NewProvider()
	redisClient, err := redisplatform.New(cfg)
	if err != nil {
		log.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		gate = identity.NewCachedGate(gate, redisClient, cfg.IdentityCacheTTL, log)
		routerOpts = append(routerOpts, httptransport.WithHealthCheck("redis", redisClient))
	}

	registry := compliance.NewService(complianceStore,
		compliance.WithLogger(log),
		compliance.WithAuditPublisher(publisher),
	)
	asset := payment.NewStableCoin("EURS")
	ledgerService := ledger.NewService(ledgerStore, registry, gate, asset,
		ledger.WithLogger(log),
		ledger.WithAuditPublisher(publisher),
		ledger.WithCustody(cfg.CustodyAddress),
		ledger.WithMetrics(ledger.NewMetrics(nil)),
	)

	validator := jwtauth.NewAdapter(jwtauth.NewJWTService(
		cfg.JWTSigningKey, cfg.TokenIssuer, cfg.TokenAudience))

	m := metrics.New(nil)
	router := httptransport.NewRouter(log, m, []httptransport.Registrar{
		compliancehandler.New(registry, validator, log),
		ledgerhandler.New(ledgerService, validator, log),
	}, routerOpts...)

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting bondledger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

type dbHealth struct {
	db interface {
		PingContext(ctx context.Context) error
	}
}

func (h dbHealth) Health(ctx context.Context) error {
	return h.db.PingContext(ctx)
}
