// Command worker consumes upload jobs from Kafka and runs the validation and
// insertion passes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/molingest/internal/bootstrap"
	"github.com/turtacn/molingest/internal/config"
	"github.com/turtacn/molingest/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/molingest/internal/interfaces/http"
	"github.com/turtacn/molingest/internal/interfaces/http/handlers"
	"github.com/turtacn/molingest/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

const (
	defaultWorkerConfigPath = "configs/config.yaml"
	shutdownTimeout         = 30 * time.Second
)

func main() {
	configPath := flag.String("config", defaultWorkerConfigPath, "path to configuration file")
	workerCount := flag.Int("workers", 0, "number of consumers in the group (default: worker.concurrency)")
	flag.Parse()

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *workerCount > 0 {
		cfg.Worker.Concurrency = *workerCount
	}

	logger, err := bootstrap.NewLogger(cfg.Log, "molingest-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	if cfg.Upload.Dispatch != bootstrap.DispatchKafka {
		return errors.ErrInvalidConfig.WithDetail("the worker needs upload.dispatch=kafka, got " + cfg.Upload.Dispatch)
	}
	logger.Info("starting molingest worker",
		logging.String("version", Version),
		logging.String("commit", GitCommit),
		logging.Int("consumers", cfg.Worker.Concurrency),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inf, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer inf.Close()
	inf.LogStartup("worker")

	processor := inf.NewProcessor()
	consumers := make([]*kafka.Consumer, 0, cfg.Worker.Concurrency)
	defer func() {
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close consumer", logging.Err(err))
			}
		}
	}()
	for n := 0; n < max(cfg.Worker.Concurrency, 1); n++ {
		c, err := inf.NewJobConsumer(processor)
		if err != nil {
			return err
		}
		consumers = append(consumers, c)
		if err := c.Start(ctx); err != nil {
			return err
		}
	}

	healthSrv := startHealthServer(cfg, inf, logger)

	<-ctx.Done()
	logger.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", logging.Err(err))
	}
	logger.Info("worker stopped")
	return nil
}

// startHealthServer exposes probes and metrics on the worker health port.
func startHealthServer(cfg *config.Config, inf *bootstrap.Infra, logger logging.Logger) *httpserver.Server {
	routerCfg := httpserver.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(Version, inf.Metrics, inf.HealthCheckers()...),
		Logger:        logger,
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsHandler = inf.MetricsHandler
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	srv := httpserver.NewServer(config.HTTPConfig{Port: cfg.Worker.HealthPort}, httpserver.NewRouter(routerCfg), logger.Named("health"))

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("health server error", logging.Err(err))
		}
	}()
	return srv
}
