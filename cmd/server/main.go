// Command server wires the stores, services, background worker and HTTP
// surface, then runs them until a shutdown signal arrives. Business logic
// lives in the internal packages.
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

	"keel/internal/access"
	"keel/internal/billing"
	billinghandler "keel/internal/billing/handler"
	"keel/internal/commission"
	commissionhandler "keel/internal/commission/handler"
	"keel/internal/fiscal"
	fiscalhandler "keel/internal/fiscal/handler"
	httpapi "keel/internal/http"
	"keel/internal/inbox"
	"keel/internal/jobs"
	jobsmetrics "keel/internal/jobs/metrics"
	"keel/internal/ledger"
	ledgerhandler "keel/internal/ledger/handler"
	ledgermetrics "keel/internal/ledger/metrics"
	ledgermem "keel/internal/ledger/store/memory"
	ledgerpg "keel/internal/ledger/store/postgres"
	"keel/internal/ledger/tailcache"
	"keel/internal/platform/config"
	"keel/internal/platform/httpserver"
	"keel/internal/platform/kafka/consumer"
	"keel/internal/platform/logger"
	"keel/internal/platform/metrics"
	"keel/internal/platform/postgres"
	platformredis "keel/internal/platform/redis"
	"keel/internal/tenant"
	tenanthandler "keel/internal/tenant/handler"
	tenantmetrics "keel/internal/tenant/metrics"
	"keel/pkg/platform/middleware/auth"
	"keel/pkg/platform/tx"
)

func main() {
	log := logger.New()
	if err := run(config.FromEnv(), log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	ledger     ledger.Store
	access     access.OverrideStore
	inbox      inbox.Store
	jobs       jobs.Store
	commission commission.Store
	billing    billing.Store
	fiscal     fiscal.Store
	tenants    tenant.Store
	runner     tx.Runner
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var cache ledger.TailCache = tailcache.NewMemory()
	if redisClient != nil {
		cache = tailcache.NewRedis(redisClient.Client, log)
	}

	ledgerSvc := ledger.NewService(st.ledger,
		ledger.WithTailCache(cache),
		ledger.WithMetrics(ledgermetrics.New()),
		ledger.WithLogger(log),
	)
	accessSvc := access.NewService(st.access, access.WithLogger(log))
	inboxSvc := inbox.NewService(st.inbox, log)
	jobsSvc := jobs.NewService(st.jobs, log)
	commissionSvc := commission.NewService(st.commission, accessSvc, ledgerSvc, st.runner, log)
	billingSvc := billing.NewService(st.billing, accessSvc, ledgerSvc, inboxSvc, commissionSvc, st.runner, log)
	provider := fiscal.NewHTTPProvider(cfg.Fiscal.ProviderURL, nil)
	fiscalSvc := fiscal.NewService(st.fiscal, accessSvc, ledgerSvc, jobsSvc, inboxSvc, provider, st.runner, log)
	tenantSvc := tenant.NewService(st.tenants, accessSvc, ledgerSvc, st.runner, log,
		tenant.WithMetrics(tenantmetrics.New()))

	worker := jobs.NewWorker(st.jobs, jobs.Config{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}, log, jobsmetrics.New())
	worker.Register(fiscal.JobKindIssue, fiscalSvc.JobHandler())

	validator := auth.NewValidator([]byte(cfg.Auth.JWTSigningKey), cfg.Auth.Issuer)
	router := httpapi.NewRouter(httpapi.Deps{
		Logger:        log,
		Metrics:       metrics.New(),
		Validator:     validator,
		TenantChecker: tenantSvc,
		Commission:    commissionhandler.New(commissionSvc, log),
		Billing:       billinghandler.New(billingSvc, commissionSvc, log),
		Fiscal:        fiscalhandler.New(fiscalSvc, []byte(cfg.Webhook.FiscalSecret), log),
		Ledger:        ledgerhandler.New(ledgerSvc, accessSvc, log),
		Tenants:       tenanthandler.New(tenantSvc, log),
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		log.Info("starting job worker", "concurrency", cfg.Worker.Concurrency)
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		if err := consumer.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.PaymentsTopic); err != nil {
			return err
		}
		payments, err := consumer.New(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.ConsumerGroup,
			Topics:  []string{cfg.Kafka.PaymentsTopic},
		}, billing.NewPaymentHandler(billingSvc, log), log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Info("starting payment consumer", "topic", cfg.Kafka.PaymentsTopic)
			defer payments.Close()
			if err := payments.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// buildStores selects the persistence backend. A configured DSN wires the
// PostgreSQL stores behind a shared transaction runner; otherwise everything
// runs on the in-memory stores.
func buildStores(ctx context.Context, cfg config.Config) (stores, func(), error) {
	if cfg.Postgres.DSN == "" {
		return stores{
			ledger:     ledgermem.New(),
			access:     access.NewInMemoryOverrides(),
			inbox:      inbox.NewInMemory(),
			jobs:       jobs.NewInMemory(),
			commission: commission.NewInMemory(),
			billing:    billing.NewInMemory(),
			fiscal:     fiscal.NewInMemory(),
			tenants:    tenant.NewInMemory(),
			runner:     tx.Passthrough{},
		}, func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return stores{}, nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return stores{
		ledger:     ledgerpg.New(db),
		access:     access.NewPostgresOverrides(db),
		inbox:      inbox.NewPostgres(db),
		jobs:       jobs.NewPostgres(db),
		commission: commission.NewPostgres(db),
		billing:    billing.NewPostgres(db),
		fiscal:     fiscal.NewPostgres(db),
		tenants:    tenant.NewPostgres(db),
		runner:     tx.NewRunner(db),
	}, func() { db.Close() }, nil
}
