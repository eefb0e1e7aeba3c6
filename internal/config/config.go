// Package config loads service configuration from an optional YAML file
// overlaid with environment variables, adapting the koanf-based loader
// pattern used elsewhere in this codebase's lineage: a typed struct with
// koanf tags, strict unmarshalling that rejects unknown keys, and a
// Validate step that turns missing/contradictory settings into a single
// startup error instead of a confusing runtime failure.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the union of settings for both positiond and ingestd; each
// binary reads only the sub-section it needs.
type Config struct {
	Service     ServiceConfig     `koanf:"service"`
	Positioning PositioningConfig `koanf:"positioning"`
	Ingestion   IngestionConfig   `koanf:"ingestion"`
	APIDB       APIDBConfig       `koanf:"apidb"`
	MQTT        MQTTConfig        `koanf:"mqtt"`
}

// ServiceConfig holds settings common to either binary.
type ServiceConfig struct {
	LogLevel               string `koanf:"log_level"`
	MetricsPort            int    `koanf:"metrics_port"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// PositioningConfig tunes the orchestrator, the algorithm selector, and
// the fusion combiner.
type PositioningConfig struct {
	GRPCListen                    string  `koanf:"grpc_listen"`
	PerAlgorithmTimeoutMs         int     `koanf:"per_algorithm_timeout_ms"`
	MaxFinalistAlgorithms         int     `koanf:"max_finalist_algorithms"`
	PruneWeightThreshold          float64 `koanf:"prune_weight_threshold"`
	CollinearConfidenceMultiplier float64 `koanf:"collinear_confidence_multiplier"`
}

// IngestionConfig tunes the batch accumulator and the delivery engine.
type IngestionConfig struct {
	MaxRecordsPerBatch int `koanf:"max_records_per_batch"`
	MaxBatchBytes      int `koanf:"max_batch_bytes"`
	MaxBatchLatencyMs  int `koanf:"max_batch_latency_ms"`
	SinkTimeoutMs      int `koanf:"sink_timeout_ms"`
	DeliveryWorkers    int `koanf:"delivery_workers"`
}

// APIDBConfig selects and configures the access-point database backend.
// At least one of GRPCAddr or SQLitePath must be set; when both are,
// GRPCAddr is preferred and SQLitePath becomes its fallback cache.
type APIDBConfig struct {
	GRPCAddr      string `koanf:"grpc_addr"`
	GRPCTimeoutMs int    `koanf:"grpc_timeout_ms"`
	SQLitePath    string `koanf:"sqlite_path"`
}

// MQTTConfig configures the scan-result upstream subscriber.
type MQTTConfig struct {
	Broker   string `koanf:"broker"`
	Port     int    `koanf:"port"`
	ClientID string `koanf:"client_id"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Topic    string `koanf:"topic"`
	QoS      int    `koanf:"qos"`
}

// Load reads defaults, overlays an optional YAML file at path, then
// overlays WIFILOC_-prefixed environment variables, and validates the
// result. Unknown keys in the file are rejected rather than silently
// ignored.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := &Config{
		Service: ServiceConfig{
			LogLevel:               "info",
			MetricsPort:            9100,
			ShutdownTimeoutSeconds: 15,
		},
		Positioning: PositioningConfig{
			GRPCListen:                    ":9443",
			PerAlgorithmTimeoutMs:         5000,
			MaxFinalistAlgorithms:         3,
			PruneWeightThreshold:          0.4,
			CollinearConfidenceMultiplier: 1.5,
		},
		Ingestion: IngestionConfig{
			MaxRecordsPerBatch: 500,
			MaxBatchBytes:      4 * 1024 * 1024,
			MaxBatchLatencyMs:  1500,
			SinkTimeoutMs:      10000,
			DeliveryWorkers:    2,
		},
		APIDB: APIDBConfig{
			GRPCTimeoutMs: 3000,
		},
		MQTT: MQTTConfig{
			Broker:   "localhost",
			Port:     1883,
			ClientID: "ingestd",
			Topic:    "wifiloc/scans",
			QoS:      1,
		},
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: WIFILOC_APIDB__GRPC_ADDR -> apidb.grpc_addr
	if err := k.Load(env.Provider("WIFILOC_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "WIFILOC_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	// cfg already carries its defaults; the mapstructure-backed Unmarshal
	// only overwrites fields present in a loaded source, so keys absent
	// from both file and env keep their default value. ErrorUnused turns
	// an unknown key into a startup error instead of silently ignoring a
	// typo.
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field invariants that a struct tag cannot
// express, turning a malformed config into one descriptive startup
// error.
func (c *Config) Validate() error {
	if c.Positioning.PerAlgorithmTimeoutMs <= 0 {
		return fmt.Errorf("config: positioning.per_algorithm_timeout_ms must be > 0 (got %d)", c.Positioning.PerAlgorithmTimeoutMs)
	}
	if c.Positioning.MaxFinalistAlgorithms <= 0 {
		return fmt.Errorf("config: positioning.max_finalist_algorithms must be > 0 (got %d)", c.Positioning.MaxFinalistAlgorithms)
	}
	if c.Positioning.PruneWeightThreshold < 0 || c.Positioning.PruneWeightThreshold > 1 {
		return fmt.Errorf("config: positioning.prune_weight_threshold must be within [0,1] (got %f)", c.Positioning.PruneWeightThreshold)
	}
	if c.Positioning.CollinearConfidenceMultiplier <= 0 {
		return fmt.Errorf("config: positioning.collinear_confidence_multiplier must be > 0 (got %f)", c.Positioning.CollinearConfidenceMultiplier)
	}
	if c.Ingestion.MaxRecordsPerBatch <= 0 {
		return fmt.Errorf("config: ingestion.max_records_per_batch must be > 0 (got %d)", c.Ingestion.MaxRecordsPerBatch)
	}
	if c.Ingestion.MaxBatchBytes <= 0 {
		return fmt.Errorf("config: ingestion.max_batch_bytes must be > 0 (got %d)", c.Ingestion.MaxBatchBytes)
	}
	if c.Ingestion.MaxBatchLatencyMs <= 0 {
		return fmt.Errorf("config: ingestion.max_batch_latency_ms must be > 0 (got %d)", c.Ingestion.MaxBatchLatencyMs)
	}
	if c.Ingestion.SinkTimeoutMs <= 0 {
		return fmt.Errorf("config: ingestion.sink_timeout_ms must be > 0 (got %d)", c.Ingestion.SinkTimeoutMs)
	}
	if c.Ingestion.DeliveryWorkers <= 0 {
		return fmt.Errorf("config: ingestion.delivery_workers must be > 0 (got %d)", c.Ingestion.DeliveryWorkers)
	}
	if c.APIDB.GRPCAddr == "" && c.APIDB.SQLitePath == "" {
		return fmt.Errorf("config: at least one of apidb.grpc_addr or apidb.sqlite_path is required")
	}
	if c.Service.MetricsPort <= 0 || c.Service.MetricsPort > 65535 {
		return fmt.Errorf("config: service.metrics_port must be a valid TCP port (got %d)", c.Service.MetricsPort)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	return nil
}

// PerAlgorithmTimeout returns the configured per-algorithm deadline as a
// time.Duration.
func (p PositioningConfig) PerAlgorithmTimeout() time.Duration {
	return time.Duration(p.PerAlgorithmTimeoutMs) * time.Millisecond
}

// MaxBatchLatency returns the configured staleness deadline as a
// time.Duration.
func (i IngestionConfig) MaxBatchLatency() time.Duration {
	return time.Duration(i.MaxBatchLatencyMs) * time.Millisecond
}

// GRPCTimeout returns the configured access-point database RPC deadline
// as a time.Duration.
func (a APIDBConfig) GRPCTimeout() time.Duration {
	return time.Duration(a.GRPCTimeoutMs) * time.Millisecond
}
