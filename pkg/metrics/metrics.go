// Package metrics registers the Prometheus counters/gauges emitted by
// both daemons: a struct of GaugeVec/CounterVec fields registered once
// at startup and served over /metrics via promhttp.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wifiloc/wifiloc/pkg/logx"
)

// Positioning holds the per-algorithm counters: invocation, success,
// and failure counts, labeled by algorithm name and (for failures)
// reason.
type Positioning struct {
	invocations *prometheus.CounterVec
	successes   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	requests    *prometheus.CounterVec
}

// NewPositioning registers the positioning metrics on reg.
func NewPositioning(reg prometheus.Registerer) *Positioning {
	p := &Positioning{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiloc_algorithm_invocations_total",
			Help: "Number of times each positioning algorithm was invoked as a finalist.",
		}, []string{"algorithm"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiloc_algorithm_successes_total",
			Help: "Number of times each positioning algorithm produced a valid position.",
		}, []string{"algorithm"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiloc_algorithm_failures_total",
			Help: "Number of times each positioning algorithm failed, by reason.",
		}, []string{"algorithm", "reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiloc_requests_total",
			Help: "Positioning requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(p.invocations, p.successes, p.failures, p.requests)
	return p
}

func (p *Positioning) RecordInvocation(algorithm string) { p.invocations.WithLabelValues(algorithm).Inc() }
func (p *Positioning) RecordSuccess(algorithm string) { p.successes.WithLabelValues(algorithm).Inc() }
func (p *Positioning) RecordFailure(algorithm, reason string) {
	p.failures.WithLabelValues(algorithm, reason).Inc()
}
func (p *Positioning) RecordOutcome(outcome string) { p.requests.WithLabelValues(outcome).Inc() }

// Ingestion holds the batch-delivery counters/gauges:
// attempts/successes/retries broken out by exception classification,
// plus in-flight-batch and accumulated-byte gauges.
type Ingestion struct {
	batchAttempts    *prometheus.CounterVec
	batchSuccesses   prometheus.Counter
	batchExhausted   *prometheus.CounterVec
	retriesByClass   *prometheus.CounterVec
	inFlightBatches  *prometheus.GaugeVec
	accumulatedBytes prometheus.Gauge
}

// NewIngestion registers the ingestion metrics on reg.
func NewIngestion(reg prometheus.Registerer) *Ingestion {
	in := &Ingestion{
		batchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiloc_batch_delivery_attempts_total",
			Help: "Batch delivery attempts by exception classification of the prior failure (empty for the first attempt).",
		}, []string{"class"}),
		batchSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wifiloc_batch_delivery_successes_total",
			Help: "Batches successfully delivered and acknowledged.",
		}),
		batchExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiloc_batch_delivery_exhausted_total",
			Help: "Batches whose retries were exhausted, by exception classification.",
		}, []string{"class"}),
		retriesByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wifiloc_batch_retries_total",
			Help: "Retry attempts by exception classification.",
		}, []string{"class"}),
		inFlightBatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wifiloc_batches_in_flight",
			Help: "Batches currently in delivery or retry, by delivery worker.",
		}, []string{"worker"}),
		accumulatedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wifiloc_batch_accumulated_bytes",
			Help: "Bytes currently held in the open batch accumulator.",
		}),
	}
	reg.MustRegister(in.batchAttempts, in.batchSuccesses, in.batchExhausted, in.retriesByClass, in.inFlightBatches, in.accumulatedBytes)
	return in
}

func (i *Ingestion) RecordAttempt(class string) { i.batchAttempts.WithLabelValues(class).Inc() }
func (i *Ingestion) RecordSuccess() { i.batchSuccesses.Inc() }
func (i *Ingestion) RecordExhausted(class string) { i.batchExhausted.WithLabelValues(class).Inc() }
func (i *Ingestion) RecordRetry(class string) { i.retriesByClass.WithLabelValues(class).Inc() }
func (i *Ingestion) SetWorkerInFlight(worker string, n int) {
	i.inFlightBatches.WithLabelValues(worker).Set(float64(n))
}
func (i *Ingestion) SetAccumulatedBytes(n int) { i.accumulatedBytes.Set(float64(n)) }

// Server serves a registry's /metrics endpoint over HTTP.
type Server struct {
	reg    *prometheus.Registry
	logger *logx.Logger
	server *http.Server
}

// NewServer builds a metrics HTTP server around a fresh registry.
func NewServer(logger *logx.Logger) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return &Server{reg: reg, logger: logger}, reg
}

// Start begins serving /metrics on the given port in the background.
func (s *Server) Start(port int) error {
	s.logger.Info("starting metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	s.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err.Error())
		}
	}()
	return nil
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
