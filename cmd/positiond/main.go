package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection"

	"github.com/wifiloc/wifiloc/internal/apidb"
	"github.com/wifiloc/wifiloc/internal/auditlog"
	"github.com/wifiloc/wifiloc/internal/config"
	"github.com/wifiloc/wifiloc/pkg/locate/algorithms"
	"github.com/wifiloc/wifiloc/pkg/locate/orchestrator"
	"github.com/wifiloc/wifiloc/pkg/logx"
	"github.com/wifiloc/wifiloc/pkg/metrics"
)

const (
	version = "0.1.0-dev"
	appName = "positiond"
)

var (
	configFile  = flag.String("config", "", "YAML config file path (optional; env and defaults fill the rest)")
	logLevel    = flag.String("log-level", "", "Log level override (debug|info|warn|error)")
	versionFlag = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: config error: %v\n", appName, err)
		os.Exit(1)
	}

	level := cfg.Service.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := logx.New(level)
	logger.Info("starting positioning daemon", "version", version, "grpcListen", cfg.Positioning.GRPCListen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open access-point database", "error", err.Error())
		os.Exit(1)
	}

	metricsServer, reg := metrics.NewServer(logger)
	positioningMetrics := metrics.NewPositioning(reg)
	if err := metricsServer.Start(cfg.Service.MetricsPort); err != nil {
		logger.Error("failed to start metrics server", "error", err.Error())
		os.Exit(1)
	}

	registry := algorithms.NewRegistry()
	audit := auditlog.New(logger)
	orch := orchestrator.New(db, registry, audit, logger, positioningMetrics, orchestrator.Config{
		PerAlgorithmTimeout:           cfg.Positioning.PerAlgorithmTimeout(),
		MaxFinalistAlgorithms:         cfg.Positioning.MaxFinalistAlgorithms,
		PruneWeightThreshold:          cfg.Positioning.PruneWeightThreshold,
		CollinearConfidenceMultiplier: cfg.Positioning.CollinearConfidenceMultiplier,
	})

	srv := newServer(orch, logger)
	grpcServer := grpc.NewServer()
	reflection.Register(grpcServer)
	registerPositioningService(grpcServer, srv)

	lis, err := listen(cfg.Positioning.GRPCListen)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.Positioning.GRPCListen, "error", err.Error())
		os.Exit(1)
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.Positioning.GRPCListen)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", "error", err.Error())
		}
	}()

	selfCheckReflection(ctx, cfg.Positioning.GRPCListen, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()

	grpcServer.GracefulStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Service.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", "error", err.Error())
	}
	if closer, ok := db.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("database close error", "error", err.Error())
		}
	}
	logger.Info("positioning daemon stopped")
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *logx.Logger) (apidb.Database, error) {
	var remote, cache apidb.Database

	if cfg.APIDB.GRPCAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.APIDB.GRPCTimeout())
		defer cancel()
		client, err := apidb.DialGRPC(dialCtx, cfg.APIDB.GRPCAddr, cfg.APIDB.GRPCTimeout())
		if err != nil {
			logger.Warn("AP database gRPC dial failed, falling back to cache only", "addr", cfg.APIDB.GRPCAddr, "error", err.Error())
		} else {
			remote = client
		}
	}

	if cfg.APIDB.SQLitePath != "" {
		sc, err := apidb.OpenSQLiteCache(cfg.APIDB.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite cache: %w", err)
		}
		cache = sc
	}

	switch {
	case remote != nil && cache != nil:
		return &apidb.CompositeDatabase{Remote: remote, Cache: cache}, nil
	case remote != nil:
		return remote, nil
	case cache != nil:
		return cache, nil
	default:
		return nil, fmt.Errorf("no access-point database configured: set apidb.grpc_addr and/or apidb.sqlite_path")
	}
}

// selfCheckReflection dials the server's own reflection endpoint once at
// startup and logs the services it advertises, the same operational
// sanity check an operator would otherwise run by hand with grpcurl.
func selfCheckReflection(ctx context.Context, addr string, logger *logx.Logger) {
	dialAddr := addr
	if len(dialAddr) > 0 && dialAddr[0] == ':' {
		dialAddr = "127.0.0.1" + dialAddr
	}
	conn, err := grpc.DialContext(ctx, dialAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Warn("reflection self-check dial failed", "error", err.Error())
		return
	}
	defer conn.Close()

	refClient := grpcreflect.NewClientAuto(ctx, conn)
	defer refClient.Reset()

	source := grpcurl.DescriptorSourceFromServer(ctx, refClient)
	services, err := grpcurl.ListServices(source)
	if err != nil {
		logger.Warn("reflection self-check failed", "error", err.Error())
		return
	}
	logger.Info("gRPC reflection advertises services", "services", services)
}
