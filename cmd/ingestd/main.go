package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wifiloc/wifiloc/internal/config"
	"github.com/wifiloc/wifiloc/internal/ingest/batch"
	"github.com/wifiloc/wifiloc/internal/ingest/delivery"
	"github.com/wifiloc/wifiloc/internal/notify"
	"github.com/wifiloc/wifiloc/internal/sink"
	"github.com/wifiloc/wifiloc/internal/upstream"
	"github.com/wifiloc/wifiloc/pkg/logx"
	"github.com/wifiloc/wifiloc/pkg/metrics"
)

const (
	version = "0.1.0-dev"
	appName = "ingestd"
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
	logger.Info("starting ingestion daemon", "version", version, "mqttBroker", cfg.MQTT.Broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer, reg := metrics.NewServer(logger)
	ingestionMetrics := metrics.NewIngestion(reg)
	if err := metricsServer.Start(cfg.Service.MetricsPort); err != nil {
		logger.Error("failed to start metrics server", "error", err.Error())
		os.Exit(1)
	}

	recordSink := sink.NewInProcess()
	notifier := notify.New(notify.DefaultConfig(), logger)

	mqttCfg := upstream.Config{
		Broker:   cfg.MQTT.Broker,
		Port:     cfg.MQTT.Port,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Topic:    cfg.MQTT.Topic,
		QoS:      byte(cfg.MQTT.QoS),
	}

	// The accumulator's onFlush closure needs the worker pool, the pool's
	// engine needs the consumer (as its Acker), and the consumer needs
	// the accumulator. pool is filled in just below, before any message
	// can arrive. Submit blocks while every worker is busy, so a batch
	// stuck in retry backpressures flushes all the way up to the MQTT
	// handler.
	var consumer *upstream.Consumer
	var pool *delivery.Pool

	acc := batch.NewWithConfig(batch.Config{
		MaxRecords: cfg.Ingestion.MaxRecordsPerBatch,
		MaxBytes:   cfg.Ingestion.MaxBatchBytes,
		MaxLatency: cfg.Ingestion.MaxBatchLatency(),
	}, func(b batch.Batch) {
		pool.Submit(b)
	})

	consumer = upstream.NewConsumer(mqttCfg, logger, acc)
	engine := delivery.New(recordSink, consumer, notifier, logger, ingestionMetrics, delivery.Config{
		SinkTimeout: time.Duration(cfg.Ingestion.SinkTimeoutMs) * time.Millisecond,
	})
	pool = delivery.NewPool(engine, cfg.Ingestion.DeliveryWorkers)
	pool.Start(ctx)

	if err := consumer.Connect(mqttCfg); err != nil {
		logger.Error("failed to connect to MQTT broker", "error", err.Error())
		os.Exit(1)
	}

	staleTicker := time.NewTicker(250 * time.Millisecond)
	defer staleTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-staleTicker.C:
				acc.FlushIfStale()
				ingestionMetrics.SetAccumulatedBytes(acc.PendingBytes())
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()

	consumer.Disconnect()
	acc.Flush()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Service.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", "error", err.Error())
	}
	logger.Info("ingestion daemon stopped")
}
