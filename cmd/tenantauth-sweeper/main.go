// Command tenantauth-sweeper runs the periodic maintenance sweep against a
// Postgres-backed tenantauth deployment and serves engine metrics.
//
// Every sweep interval it expires refresh tokens, stale second-factor
// enrollments and due subscriptions, and moves tenants left without a
// running plan to expired. Audit events go to Kafka when
// TENANTAUTH_KAFKA_BROKERS is set and to the process log otherwise.
//
// Endpoints on TENANTAUTH_METRICS_ADDR:
//
//	GET /metrics  Prometheus text format
//	GET /healthz  store and challenge-store reachability
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/tenantauth"
	"github.com/MrEthical07/tenantauth/auditsink"
	"github.com/MrEthical07/tenantauth/internal/logging"
	promexport "github.com/MrEthical07/tenantauth/metrics/export/prometheus"
	"github.com/MrEthical07/tenantauth/store/pgstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tenantauth-sweeper exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := tenantauth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	deploy, err := loadDeployConfig(defaultEnvOptions())
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Service, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolCfg := pgstore.DefaultPoolConfig()
	poolCfg.MaxConns = deploy.MaxConns
	pool, err := pgstore.Open(ctx, deploy.DatabaseURL, poolCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := pgstore.New(pool)
	if deploy.Migrate {
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema migrated")
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    deploy.RedisAddrs,
		Password: deploy.RedisPassword,
		DB:       deploy.RedisDB,
	})
	defer rdb.Close()

	sinks := tenantauth.MultiSink{tenantauth.NewSlogSink(logger)}
	if len(deploy.KafkaBrokers) > 0 {
		kafkaSink, err := auditsink.NewKafkaSink(auditsink.DefaultKafkaConfig(deploy.KafkaBrokers, deploy.KafkaTopic), logger)
		if err != nil {
			return err
		}
		defer kafkaSink.Close()
		if err := kafkaSink.Ping(ctx); err != nil {
			logger.Warn("kafka unreachable at startup", slog.Any("error", err))
		}
		sinks = tenantauth.MultiSink{kafkaSink}
	}

	engine, err := tenantauth.New().
		WithConfig(cfg).
		WithStore(st).
		WithRedis(rdb).
		WithLogger(logger).
		WithAuditSink(sinks).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	metricsHandler, err := promexport.NewCollector(engine).Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              deploy.MetricsAddr,
		Handler:           newRouter(engine, metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", slog.String("addr", deploy.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			stop()
		}
		close(srvErr)
	}()

	logger.Info("sweeper started", slog.Duration("interval", cfg.Sweeper.Interval))
	sweepErr := engine.RunSweeper(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deploy.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", slog.Any("error", err))
	}
	if err := <-srvErr; err != nil {
		return err
	}
	if sweepErr != nil && !errors.Is(sweepErr, context.Canceled) {
		return sweepErr
	}
	logger.Info("sweeper stopped")
	return nil
}

func newRouter(engine *tenantauth.Engine, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Health(r.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}
