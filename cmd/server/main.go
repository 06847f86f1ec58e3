// Command server runs the expense management API.
//
// Wiring lives here and nowhere else: stores are chosen by configuration
// (in-memory by default, postgres when a DSN is set), optional backends
// (redis, kafka) degrade to disabled when unconfigured, and all business
// logic stays in the internal services.
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

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	auditlog "expensio/internal/audit"
	audithandler "expensio/internal/audit/handler"
	companyhandler "expensio/internal/company/handler"
	companymetrics "expensio/internal/company/metrics"
	companyservice "expensio/internal/company/service"
	companystore "expensio/internal/company/store"
	"expensio/internal/currency"
	expensehandler "expensio/internal/expense/handler"
	expensemetrics "expensio/internal/expense/metrics"
	expenseservice "expensio/internal/expense/service"
	expensestore "expensio/internal/expense/store"
	identityhandler "expensio/internal/identity/handler"
	identityservice "expensio/internal/identity/service"
	identitystore "expensio/internal/identity/store"
	"expensio/internal/jwttoken"
	"expensio/internal/notification"
	"expensio/internal/platform/config"
	"expensio/internal/platform/httpserver"
	"expensio/internal/platform/logger"
	platformredis "expensio/internal/platform/redis"
	httptransport "expensio/internal/transport/http"
	"expensio/internal/workflow"
	workflowhandler "expensio/internal/workflow/handler"
	workflowmetrics "expensio/internal/workflow/metrics"
	txcontext "expensio/pkg/platform/tx"
)

const requestTimeout = 60 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := map[string]httptransport.HealthCheck{}

	// Stores. The in-memory implementations back local development and
	// tests; postgres takes over when a DSN is configured.
	var (
		users     identityservice.UserStore
		companies companyservice.Store
		expenses  expenseservice.Store
		txRunner  *txcontext.Runner
	)
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		users = identitystore.NewPostgres(db)
		companies = companystore.NewPostgres(db)
		expenses = expensestore.NewPostgres(db)
		txRunner = txcontext.NewRunner(db)
		health["postgres"] = db.PingContext
		log.Info("using postgres stores")
	} else {
		users = identitystore.NewInMemory()
		companies = companystore.NewInMemory()
		expenses = expensestore.NewInMemory()
		log.Info("using in-memory stores")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var rateCache currency.RateCache
	if redisClient != nil {
		defer redisClient.Close()
		rateCache = currency.NewRedisCache(redisClient)
		health["redis"] = redisClient.Health
		log.Info("redis rate cache enabled")
	}
	converter := currency.NewConverter(rateCache, log)

	// Notification sinks. Kafka joins the slog sink only when brokers are
	// configured; either way delivery is asynchronous and best-effort.
	sinks := []notification.Sink{notification.NewSlogSink(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := notification.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.Info("kafka notification sink enabled", "topic", cfg.Kafka.Topic)
	}
	dispatcher := notification.NewDispatcher(cfg.NotificationBuffer, log, sinks...)

	auditStore := auditlog.NewInMemoryStore()
	auditPublisher := auditlog.NewPublisher(auditStore)

	tokens := jwttoken.NewService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)

	identitySvc := identityservice.New(users, companies, tokens, cfg.JWT.AccessTTL,
		identityservice.WithLogger(log),
		identityservice.WithAuditPublisher(auditPublisher),
	)
	companySvc := companyservice.New(companies,
		companyservice.WithLogger(log),
		companyservice.WithAuditPublisher(auditPublisher),
		companyservice.WithMetrics(companymetrics.New()),
	)
	expenseSvc := expenseservice.New(expenses, companies, converter, cfg.ExpenseDateTolerance,
		expenseservice.WithLogger(log),
		expenseservice.WithNotifier(dispatcher),
		expenseservice.WithAuditPublisher(auditPublisher),
		expenseservice.WithMetrics(expensemetrics.New()),
	)
	engine := workflow.New(expenses, companies,
		workflow.WithLogger(log),
		workflow.WithNotifier(dispatcher),
		workflow.WithAuditPublisher(auditPublisher),
		workflow.WithMetrics(workflowmetrics.New()),
	)

	identityH := identityhandler.New(identitySvc, log, cfg.JWT.AccessTTL)
	companyH := companyhandler.New(companySvc, identitySvc, txRunner, log)
	expenseH := expensehandler.New(expenseSvc, converter, log)
	workflowH := workflowhandler.New(engine, log)
	auditH := audithandler.New(auditPublisher, log)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:         log,
		Resolver:       identitySvc,
		Public:         []httptransport.PublicRegistrar{identityH, companyH},
		Secured:        []httptransport.Registrar{identityH, companyH, expenseH, workflowH, auditH},
		Health:         health,
		RequestTimeout: requestTimeout,
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
