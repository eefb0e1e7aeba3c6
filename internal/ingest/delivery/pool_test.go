package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wifiloc/wifiloc/internal/ingest/batch"
	"github.com/wifiloc/wifiloc/internal/sink"
)

// gatedSink parks every PutRecordBatch call until release is closed and
// records the highest number of concurrent calls it observed.
type gatedSink struct {
	mu            sync.Mutex
	concurrent    int
	maxConcurrent int
	total         int
	release       chan struct{}
}

func (s *gatedSink) PutRecordBatch(ctx context.Context, records []batch.Record) (sink.Result, error) {
	s.mu.Lock()
	s.concurrent++
	if s.concurrent > s.maxConcurrent {
		s.maxConcurrent = s.concurrent
	}
	s.mu.Unlock()

	<-s.release

	s.mu.Lock()
	s.concurrent--
	s.total++
	s.mu.Unlock()
	return sink.Result{SuccessCount: len(records)}, nil
}

func oneRecordBatch(offset uint64) batch.Batch {
	return batch.Batch{Records: []batch.Record{{Offset: offset, Bytes: []byte("x")}}, HighOffset: offset}
}

func TestPoolBoundsConcurrentDeliveries(t *testing.T) {
	acker := &fakeAcker{}
	s := &gatedSink{release: make(chan struct{})}
	close(s.release)

	p := NewPool(newEngine(t, s, acker), 2)
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		p.Submit(oneRecordBatch(uint64(i + 1)))
	}
	p.Stop()

	require.Equal(t, 5, s.total)
	require.LessOrEqual(t, s.maxConcurrent, 2)
	require.Len(t, acker.acked(), 5)
}

// With a single worker parked in the sink, Submit must block until that
// worker frees up: this is the backpressure that stops the accumulator
// from flushing new batches while one is in retry.
func TestPoolSubmitBlocksWhileWorkersBusy(t *testing.T) {
	acker := &fakeAcker{}
	s := &gatedSink{release: make(chan struct{})}

	p := NewPool(newEngine(t, s, acker), 1)
	p.Start(context.Background())

	p.Submit(oneRecordBatch(1)) // taken by the lone worker, now parked

	var second atomic.Bool
	go func() {
		p.Submit(oneRecordBatch(2))
		second.Store(true)
	}()

	require.Never(t, second.Load, 150*time.Millisecond, 15*time.Millisecond)

	close(s.release)
	require.Eventually(t, second.Load, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	require.Equal(t, 2, s.total)
}
