// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/akhenakh/hgtapi/fetch"
	"github.com/akhenakh/hgtapi/hgt"
)

const (
	appName     = "hgt-elevation-service"
	serviceName = "hgt.ElevationService"
)

var (
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
	httpAPIServer     *http.Server
	grpcMetrics       = grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram(
		grpcprom.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.3, 0.6, 1, 3}),
	))
)

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel          string       `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort          int          `env:"HTTP_PORT" envDefault:"8080"`
	HealthPort        int          `env:"HEALTH_PORT" envDefault:"6666"`
	HTTPMetricsPort   int          `env:"METRICS_PORT" envDefault:"8888"`
	DataDir           string       `env:"HGT_DATA_DIR,required"`
	CacheSize         int64        `env:"HGT_CACHE_SIZE" envDefault:"100"`
	CacheItemsToPrune uint32       `env:"HGT_CACHE_ITEMS_TO_PRUNE" envDefault:"1"`
	Preload           bool         `env:"HGT_PRELOAD"`
	PreloadRegions    string       `env:"HGT_PRELOAD_REGIONS"`
	PreloadWorkers    int          `env:"HGT_PRELOAD_WORKERS" envDefault:"4"`
	Download          fetch.Config `envPrefix:"HGT_DOWNLOAD_"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := createLogger(cfg, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	svc, acquirer, err := setupService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize elevation service, shutting down", "error", err)
		os.Exit(1)
	}
	defer svc.Close()
	if c, ok := acquirer.(io.Closer); ok {
		defer c.Close()
	}

	var regions []hgt.BoundingBox
	if cfg.PreloadRegions != "" {
		regions, err = loadRegions(cfg.PreloadRegions)
		if err != nil {
			logger.Error("failed to read preload regions, shutting down", "error", err)
			os.Exit(1)
		}
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// gRPC Health Server
	g.Go(func() error {
		return startHealthServer(logger, cfg, healthServer)
	})

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return startMetricsServer(logger, cfg, svc)
	})

	// HTTP API Server
	g.Go(func() error {
		return startHTTPAPIServer(logger, cfg, svc)
	})

	// Warm the cache before reporting healthy
	g.Go(func() error {
		if cfg.Preload || regions != nil {
			if _, err := svc.Preload(ctx, regions); err != nil {
				logger.Warn("startup preload interrupted", "error", err)
				return nil
			}
		}
		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
		return nil
	})

	// Wait for termination signal or an error from one of the services
	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	// Graceful Shutdown
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	if httpAPIServer != nil {
		if err := httpAPIServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP API server shutdown error", "error", err)
		}
	}
	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	// Wait for all services in the errgroup to finish
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

func setupService(ctx context.Context, cfg Config, logger *slog.Logger) (*hgt.Service, hgt.Acquirer, error) {
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("data directory %s is not a directory", cfg.DataDir)
	}

	opts := []hgt.Option{
		hgt.WithCacheSize(cfg.CacheSize),
		hgt.WithItemsToPrune(cfg.CacheItemsToPrune),
		hgt.WithPreloadWorkers(cfg.PreloadWorkers),
		hgt.WithLogger(logger),
	}

	acquirer, err := fetch.New(ctx, cfg.Download, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("tile acquisition: %w", err)
	}
	if acquirer != nil {
		opts = append(opts, hgt.WithAcquirer(acquirer))
	}

	logger.Info("configuring elevation service",
		"data_dir", cfg.DataDir,
		"cache_size", cfg.CacheSize,
		"items_to_prune", cfg.CacheItemsToPrune,
		"download_enabled", acquirer != nil)
	return hgt.New(cfg.DataDir, opts...), acquirer, nil
}

func startHealthServer(logger *slog.Logger, cfg Config, healthServer *health.Server) error {
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC Health server failed to listen: %w", err)
	}

	lopts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}
	grpcHealthServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(InterceptorLogger(logger), lopts...),
			grpcMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(InterceptorLogger(logger), lopts...),
			grpcMetrics.StreamServerInterceptor(),
		),
	)
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
	reflection.Register(grpcHealthServer) // Enable reflection for tools like grpcurl
	grpcMetrics.InitializeMetrics(grpcHealthServer)

	logger.Info("gRPC health server listening", "address", addr)
	return grpcHealthServer.Serve(lis)
}

func startMetricsServer(logger *slog.Logger, cfg Config, svc *hgt.Service) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	prometheus.MustRegister(grpcMetrics)
	prometheus.MustRegister(newCacheCollector(svc))

	httpMetricsServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP metrics server listening", "address", addr)

	if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func startHTTPAPIServer(logger *slog.Logger, cfg Config, svc *hgt.Service) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	api := newAPI(svc, logger, prometheus.DefaultRegisterer)

	handler, err := api.routes()
	if err != nil {
		return err
	}

	httpAPIServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("HTTP API server listening", "address", addr)

	if err := httpAPIServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP API server failed: %w", err)
	}
	return nil
}

func createLogger(cfg Config, appName string) *slog.Logger {
	var programLevel slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		programLevel = slog.LevelDebug
	case "INFO":
		programLevel = slog.LevelInfo
	case "WARN":
		programLevel = slog.LevelWarn
	case "ERROR":
		programLevel = slog.LevelError
	default:
		programLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     programLevel,
		AddSource: programLevel <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.String("app", appName)})
	return slog.New(handler)
}

func InterceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}
