package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	t.Setenv("WIFILOC_APIDB__SQLITE_PATH", "/var/lib/wifiloc/ap.db")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Service.LogLevel)
	require.Equal(t, 9100, cfg.Service.MetricsPort)
	require.Equal(t, 5000, cfg.Positioning.PerAlgorithmTimeoutMs)
	require.Equal(t, 1.5, cfg.Positioning.CollinearConfidenceMultiplier)
	require.Equal(t, 500, cfg.Ingestion.MaxRecordsPerBatch)
	require.Equal(t, 2, cfg.Ingestion.DeliveryWorkers)
	require.Equal(t, "/var/lib/wifiloc/ap.db", cfg.APIDB.SQLitePath)
}

func TestLoadFailsValidationWithoutAPIDBBackend(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "apidb.grpc_addr or apidb.sqlite_path")
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wifiloc.yaml")
	yamlContent := "service:\n  log_level: debug\napidb:\n  grpc_addr: apidb.internal:9443\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Service.LogLevel)
	require.Equal(t, "apidb.internal:9443", cfg.APIDB.GRPCAddr)
	require.Equal(t, 500, cfg.Ingestion.MaxRecordsPerBatch) // default preserved
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wifiloc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apidb:\n  grpc_addr: from-file:9443\n"), 0o600))

	t.Setenv("WIFILOC_APIDB__GRPC_ADDR", "from-env:9443")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env:9443", cfg.APIDB.GRPCAddr)
}

func TestValidateRejectsZeroTimeouts(t *testing.T) {
	cfg := &Config{
		Positioning: PositioningConfig{PerAlgorithmTimeoutMs: 0, MaxFinalistAlgorithms: 3, PruneWeightThreshold: 0.4},
		Ingestion:   IngestionConfig{MaxRecordsPerBatch: 1, MaxBatchBytes: 1, MaxBatchLatencyMs: 1, SinkTimeoutMs: 1},
		APIDB:       APIDBConfig{SQLitePath: "x"},
		Service:     ServiceConfig{MetricsPort: 9100, ShutdownTimeoutSeconds: 1},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "per_algorithm_timeout_ms")
}

func TestValidateRejectsOutOfRangePruneThreshold(t *testing.T) {
	cfg := &Config{
		Positioning: PositioningConfig{PerAlgorithmTimeoutMs: 1000, MaxFinalistAlgorithms: 3, PruneWeightThreshold: 1.5},
		Ingestion:   IngestionConfig{MaxRecordsPerBatch: 1, MaxBatchBytes: 1, MaxBatchLatencyMs: 1, SinkTimeoutMs: 1},
		APIDB:       APIDBConfig{SQLitePath: "x"},
		Service:     ServiceConfig{MetricsPort: 9100, ShutdownTimeoutSeconds: 1},
	}
	require.Error(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	p := PositioningConfig{PerAlgorithmTimeoutMs: 2500}
	require.Equal(t, 2500, int(p.PerAlgorithmTimeout().Milliseconds()))

	i := IngestionConfig{MaxBatchLatencyMs: 1500}
	require.Equal(t, 1500, int(i.MaxBatchLatency().Milliseconds()))

	a := APIDBConfig{GRPCTimeoutMs: 3000}
	require.Equal(t, 3000, int(a.GRPCTimeout().Milliseconds()))
}
