// Package delivery glues the ingestion pipeline together: attempt
// delivery to the sink, classify failures, sleep the scheduled retry
// delay, and either acknowledge the batch upstream or, once retries are
// exhausted, surface it to the supervisor and leave it unacknowledged so
// the next consumer restart reprocesses it (at-least-once).
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wifiloc/wifiloc/internal/ingest/batch"
	"github.com/wifiloc/wifiloc/internal/ingest/classify"
	"github.com/wifiloc/wifiloc/internal/ingest/retry"
	"github.com/wifiloc/wifiloc/internal/notify"
	"github.com/wifiloc/wifiloc/internal/sink"
	"github.com/wifiloc/wifiloc/pkg/logx"
	"github.com/wifiloc/wifiloc/pkg/metrics"
)

const defaultSinkTimeout = 10 * time.Second

// Acker is the subset of the upstream interface the engine uses: it
// only ever calls Ack, never Nack.
type Acker interface {
	Ack(offset uint64)
}

// Config holds the engine's tunables.
type Config struct {
	SinkTimeout time.Duration
}

// DefaultConfig returns the stock sink-call deadline.
func DefaultConfig() Config {
	return Config{SinkTimeout: defaultSinkTimeout}
}

// Engine delivers flushed batches to a Sink with classified retry.
// Each worker owns at most one in-flight batch at a time; multiple
// workers may run concurrently, each with its own in-flight batch.
type Engine struct {
	sink    sink.Sink
	acker   Acker
	notify  *notify.Manager
	log     *logx.Logger
	metrics *metrics.Ingestion
	cfg     Config

	// delayFn defaults to retry.Delay; tests substitute a zero delay.
	delayFn func(classify.Class, int) time.Duration
}

// New builds a delivery Engine.
func New(s sink.Sink, acker Acker, n *notify.Manager, log *logx.Logger, m *metrics.Ingestion, cfg Config) *Engine {
	return &Engine{sink: s, acker: acker, notify: n, log: log.WithField("component", "delivery"), metrics: m, cfg: cfg}
}

func (e *Engine) sinkTimeout() time.Duration {
	if e.cfg.SinkTimeout > 0 {
		return e.cfg.SinkTimeout
	}
	return defaultSinkTimeout
}

func (e *Engine) delay(class classify.Class, attempt int) time.Duration {
	if e.delayFn != nil {
		return e.delayFn(class, attempt)
	}
	return retry.Delay(class, attempt)
}

// Deliver attempts b against the sink with classified retry until
// success or until the class's attempt cap is exhausted.
func (e *Engine) Deliver(ctx context.Context, partition int, b batch.Batch) {
	batchID := uuid.New().String()
	log := e.log.WithFields(map[string]interface{}{"batchId": batchID, "partition": partition, "records": len(b.Records)})

	var lastClass classify.Class = ""
	for attempt := 0; ; attempt++ {
		e.metrics.RecordAttempt(string(lastClass))

		timeout := e.sinkTimeout()
		sinkCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := e.sink.PutRecordBatch(sinkCtx, b.Records)
		cancel()

		if err == nil && len(result.FailedIndices) == 0 {
			e.metrics.RecordSuccess()
			e.acker.Ack(b.HighOffset)
			log.Info("batch delivered")
			return
		}

		if err == nil {
			err = fmt.Errorf("partial batch failure: %d of %d records failed", len(result.FailedIndices), len(b.Records))
		}
		if sinkCtx.Err() != nil {
			err = fmt.Errorf("sink call timed out after %s: %w", timeout, err)
		}

		class := classify.Classify(err)
		lastClass = class
		log.Warn("batch delivery failed", "attempt", attempt, "class", string(class), "error", err.Error())

		// attempt is 0-indexed, so attempt+1 attempts have been made.
		if !retry.ShouldRetry(class, attempt+1) {
			e.metrics.RecordExhausted(string(class))
			e.notify.ExhaustedBatch(batchID, partition, firstOffset(b), b.HighOffset, string(class))
			log.Error("batch retries exhausted, leaving unacknowledged", "class", string(class))
			return
		}

		e.metrics.RecordRetry(string(class))
		select {
		case <-ctx.Done():
			log.Warn("delivery cancelled during retry sleep")
			return
		case <-time.After(e.delay(class, attempt)):
		}
	}
}

func firstOffset(b batch.Batch) uint64 {
	if len(b.Records) == 0 {
		return 0
	}
	low := b.Records[0].Offset
	for _, r := range b.Records {
		if r.Offset < low {
			low = r.Offset
		}
	}
	return low
}
