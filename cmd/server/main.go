// Command server runs the name registry HTTP host: both registry modules,
// JWT-authenticated mutations, and the audit pipeline.
//
// Store selection is environment-driven: DATABASE_URL enables the Postgres
// key-registry store plus the audit outbox (and with KAFKA_BROKERS set, the
// outbox relay); REDIS_URL enables the Redis address-registry store. Without
// them everything runs in memory.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	addrhandler "namereg/internal/addrreg/handler"
	addrmetrics "namereg/internal/addrreg/metrics"
	addrservice "namereg/internal/addrreg/service"
	addrstore "namereg/internal/addrreg/store"
	"namereg/internal/jwttoken"
	keyhandler "namereg/internal/keyreg/handler"
	keymetrics "namereg/internal/keyreg/metrics"
	keyservice "namereg/internal/keyreg/service"
	keystore "namereg/internal/keyreg/store"
	"namereg/internal/platform/config"
	"namereg/internal/platform/httpserver"
	"namereg/internal/platform/logger"
	platformredis "namereg/internal/platform/redis"
	transporthttp "namereg/internal/transport/http"
	id "namereg/pkg/domain"
	audit "namereg/pkg/platform/audit"
	auditpublisher "namereg/pkg/platform/audit/publisher"
	auditrelay "namereg/pkg/platform/audit/relay"
	auditmemory "namereg/pkg/platform/audit/store/memory"
	auditpostgres "namereg/pkg/platform/audit/store/postgres"
	tx "namereg/pkg/platform/tx"
)

func main() {
	log := logger.New()
	slog.SetDefault(log)
	if err := run(context.Background(), log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	cfg := config.FromEnv()

	owner, err := id.ParseIdentity(cfg.BootstrapOwner)
	if err != nil || owner.IsNil() {
		return fmt.Errorf("REGISTRY_OWNER must be the deploying caller's identity (uuid): %q", cfg.BootstrapOwner)
	}

	tokens := jwttoken.NewService(cfg.JWTSigningKey, cfg.JWTIssuer)
	checks := map[string]transporthttp.HealthChecker{}

	var (
		db         *sql.DB
		keyStore   keystore.Store
		auditStore audit.Store
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		pg := keystore.NewPostgres(db)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate key registry: %w", err)
		}
		if err := pg.EnsureOwner(ctx, owner); err != nil {
			return fmt.Errorf("seed key registry owner: %w", err)
		}
		keyStore = pg

		outbox := auditpostgres.New(db)
		if err := outbox.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate audit outbox: %w", err)
		}
		auditStore = outbox

		checks["postgres"] = db.Ping
		log.Info("key registry backed by postgres")
	} else {
		keyStore = keystore.NewInMemory(owner)
		auditStore = auditmemory.NewInMemoryStore()
		log.Info("key registry backed by memory")
	}

	var addrStore addrstore.Store
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		rs := addrstore.NewRedis(redisClient)
		if err := rs.EnsureOwner(ctx, owner); err != nil {
			return fmt.Errorf("seed address registry owner: %w", err)
		}
		addrStore = rs
		checks["redis"] = func() error { return redisClient.Health(context.Background()) }
		log.Info("address registry backed by redis")
	} else {
		addrStore = addrstore.NewInMemory(owner)
		log.Info("address registry backed by memory")
	}

	events := auditpublisher.New(auditStore, auditpublisher.WithLogger(log))

	keyOpts := []keyservice.Option{
		keyservice.WithLogger(log),
		keyservice.WithMetrics(keymetrics.New()),
	}
	if db != nil {
		// Key records and the audit outbox share the database, so each
		// mutation and its event commit in one transaction.
		keyOpts = append(keyOpts, keyservice.WithTransactor(tx.NewRunner(db)))
	}
	keySvc := keyservice.New(keyStore, events, keyOpts...)
	addrSvc := addrservice.New(addrStore, events,
		addrservice.WithLogger(log),
		addrservice.WithMetrics(addrmetrics.New()),
	)

	router := transporthttp.NewRouter(log, []transporthttp.Registrar{
		keyhandler.New(keySvc, tokens, log),
		addrhandler.New(addrSvc, tokens, log),
	}, checks)
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if db != nil && len(cfg.Kafka.Brokers) > 0 {
		relay, err := auditrelay.New(db, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.RelayInterval, log)
		if err != nil {
			return fmt.Errorf("start audit relay: %w", err)
		}
		defer relay.Close()
		if err := relay.EnsureTopic(ctx, 1, 1); err != nil {
			return fmt.Errorf("ensure audit topic: %w", err)
		}
		g.Go(func() error {
			if err := relay.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		log.Info("audit relay started", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
