// Command apiserver serves the upload API over HTTP, the gRPC health service
// and the expiry sweeper.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/molingest/internal/bootstrap"
	"github.com/turtacn/molingest/internal/config"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/molingest/internal/interfaces/grpc"
	httpserver "github.com/turtacn/molingest/internal/interfaces/http"
	"github.com/turtacn/molingest/internal/interfaces/http/handlers"
	"github.com/turtacn/molingest/internal/interfaces/http/middleware"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
	noSweep := flag.Bool("no-sweep", false, "do not run the expiry sweeper in this process")
	flag.Parse()

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *httpPort > 0 {
		cfg.Server.HTTP.Port = *httpPort
	}
	if *grpcPort > 0 {
		cfg.Server.GRPC.Port = *grpcPort
	}

	logger, err := bootstrap.NewLogger(cfg.Log, "molingest-apiserver")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger, !*noSweep); err != nil {
		logger.Error("apiserver exited with error", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger, sweep bool) error {
	logger.Info("starting molingest API server",
		logging.String("version", Version),
		logging.String("commit", GitCommit),
		logging.String("dispatch", cfg.Upload.Dispatch),
		logging.Int("http_port", cfg.Server.HTTP.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inf, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer inf.Close()
	inf.LogStartup("apiserver")

	// Inline jobs outlive a single request but stop with the process.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	pipeline, err := inf.NewPipeline(jobCtx)
	if err != nil {
		return err
	}

	health := handlers.NewHealthHandler(Version, inf.Metrics, inf.HealthCheckers()...)
	routerCfg := httpserver.RouterConfig{
		UploadHandler: handlers.NewUploadHandler(pipeline.Service, cfg.Server.HTTP.MaxBodySize, logger.Named("uploads")),
		HealthHandler: health,
		Tenant: middleware.TenantConfig{
			HeaderName: cfg.Server.HTTP.TenantHeader,
		},
		Logging:  middleware.DefaultLoggingConfig(),
		Recorder: inf.Metrics,
		Logger:   logger,
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsHandler = inf.MetricsHandler
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	httpSrv := httpserver.NewServer(cfg.Server.HTTP, httpserver.NewRouter(routerCfg), logger)

	var grpcSrv *grpcserver.Server
	if cfg.Server.GRPC.Enabled {
		grpcSrv, err = grpcserver.NewServer(cfg.Server.GRPC,
			grpcserver.WithLogger(logger),
			grpcserver.WithRecorder(inf.Metrics),
			grpcserver.WithProber(health, cfg.Server.GRPC.ProbeInterval),
		)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}
	if sweep {
		sweeper := inf.NewSweeper()
		g.Go(func() error {
			if err := sweeper.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout+5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", logging.Err(err))
		}
		if grpcSrv != nil {
			if err := grpcSrv.Stop(shutdownCtx); err != nil {
				logger.Error("gRPC server shutdown error", logging.Err(err))
			}
		}
		return nil
	})

	err = g.Wait()

	// Let running inline jobs see cancellation before the backends close.
	cancelJobs()
	pipeline.Wait()
	logger.Info("servers stopped")
	return err
}
