// Package sink provides the downstream put-record-batch interface the
// delivery engine calls, plus a trivial in-memory implementation so
// cmd/ingestd runs end to end without a real stream configured.
package sink

import (
	"context"
	"fmt"

	"github.com/wifiloc/wifiloc/internal/ingest/batch"
)

// Result is the put-record-batch response: a success count, the indices
// that failed, and an opaque-but-inspectable error.
type Result struct {
	SuccessCount  int
	FailedIndices []int
	Err           error
}

// Sink is the downstream interface the delivery engine calls.
type Sink interface {
	PutRecordBatch(ctx context.Context, records []batch.Record) (Result, error)
}

// InProcess is a trivial in-memory sink: it "delivers" by appending to
// an internal slice, for local runs and tests. A real deployment wires
// a different Sink implementation (Kinesis/Kafka/S3/whatever the
// downstream stream actually is) behind the same interface.
type InProcess struct {
	delivered [][]byte
}

// NewInProcess builds an empty in-memory sink.
func NewInProcess() *InProcess {
	return &InProcess{}
}

func (s *InProcess) PutRecordBatch(ctx context.Context, records []batch.Record) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("put record batch: %w", err)
	}
	for _, r := range records {
		if len(r.Bytes) > batch.MaxRecordBytes {
			return Result{}, fmt.Errorf("record exceeds max size: %d bytes", len(r.Bytes))
		}
	}
	for _, r := range records {
		s.delivered = append(s.delivered, r.Bytes)
	}
	return Result{SuccessCount: len(records)}, nil
}

// Delivered returns every record byte slice accepted so far, for tests
// and local inspection.
func (s *InProcess) Delivered() [][]byte {
	return s.delivered
}
