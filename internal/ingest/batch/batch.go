// Package batch accumulates upstream scan-result messages into
// size-bounded batches: a record-count cap, a byte cap, and an
// age-based flush trigger.
package batch

import (
	"sync"
	"time"
)

const (
	MaxRecordsPerBatch = 500
	MaxBatchBytes      = 4 * 1024 * 1024
	MaxBatchLatency    = 1500 * time.Millisecond
	MaxRecordBytes     = 1 * 1024 * 1024
)

// Record is one opaque upstream message plus the offset the upstream
// consumer needs to acknowledge it.
type Record struct {
	Offset uint64
	Bytes  []byte
}

// Batch is a flushed, immutable group of records ready for delivery.
type Batch struct {
	Records    []Record
	HighOffset uint64
}

// Config bounds one accumulator. Zero values fall back to the package
// defaults above.
type Config struct {
	MaxRecords int
	MaxBytes   int
	MaxLatency time.Duration
}

// Accumulator is owned by a single goroutine: the upstream consumer
// hands it messages over Add; nothing else touches its state directly.
// Add/Flush still serialize through the mutex so the stale-flush ticker
// can run alongside the consumer.
type Accumulator struct {
	mu       sync.Mutex
	records  []Record
	bytes    int
	oldestAt time.Time
	onFlush  func(Batch)
	cfg      Config
}

// New creates an Accumulator with the default caps that calls onFlush
// with each completed batch. onFlush must not block for long: it is
// invoked while holding the accumulator lock.
func New(onFlush func(Batch)) *Accumulator {
	return NewWithConfig(Config{}, onFlush)
}

// NewWithConfig creates an Accumulator with explicit caps.
func NewWithConfig(cfg Config, onFlush func(Batch)) *Accumulator {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = MaxRecordsPerBatch
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = MaxBatchBytes
	}
	if cfg.MaxLatency <= 0 {
		cfg.MaxLatency = MaxBatchLatency
	}
	return &Accumulator{onFlush: onFlush, cfg: cfg}
}

// Add appends one record, flushing first if adding it would exceed the
// byte cap, and flushing after if the record-count cap is reached.
func (a *Accumulator) Add(r Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.records) > 0 && a.bytes+len(r.Bytes) > a.cfg.MaxBytes {
		a.flushLocked()
	}

	if len(a.records) == 0 {
		a.oldestAt = time.Now()
	}
	a.records = append(a.records, r)
	a.bytes += len(r.Bytes)

	if len(a.records) >= a.cfg.MaxRecords {
		a.flushLocked()
	}
}

// FlushIfStale flushes the current batch if the oldest record's age
// exceeds the latency cap. Intended to be called periodically by a
// ticker goroutine alongside Add.
func (a *Accumulator) FlushIfStale() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.records) == 0 {
		return
	}
	if time.Since(a.oldestAt) >= a.cfg.MaxLatency {
		a.flushLocked()
	}
}

// Flush forces the current batch out immediately, if non-empty.
func (a *Accumulator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
}

func (a *Accumulator) flushLocked() {
	if len(a.records) == 0 {
		return
	}

	records := a.records
	high := records[len(records)-1].Offset
	for _, r := range records {
		if r.Offset > high {
			high = r.Offset
		}
	}

	a.records = nil
	a.bytes = 0

	if a.onFlush != nil {
		a.onFlush(Batch{Records: records, HighOffset: high})
	}
}

// PendingBytes reports the current accumulated byte count, for the
// accumulated-bytes gauge.
func (a *Accumulator) PendingBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}
