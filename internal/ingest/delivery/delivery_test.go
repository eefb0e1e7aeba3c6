package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/wifiloc/wifiloc/internal/ingest/batch"
	"github.com/wifiloc/wifiloc/internal/ingest/classify"
	"github.com/wifiloc/wifiloc/internal/notify"
	"github.com/wifiloc/wifiloc/internal/sink"
	"github.com/wifiloc/wifiloc/pkg/logx"
	"github.com/wifiloc/wifiloc/pkg/metrics"
)

type fakeAcker struct {
	mu      sync.Mutex
	offsets []uint64
}

func (f *fakeAcker) Ack(offset uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = append(f.offsets, offset)
}

func (f *fakeAcker) acked() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.offsets))
	copy(out, f.offsets)
	return out
}

// fakeSink fails with the given errors on the first len(errs) calls, then
// succeeds.
type fakeSink struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *fakeSink) PutRecordBatch(ctx context.Context, records []batch.Record) (sink.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) {
		return sink.Result{}, s.errs[idx]
	}
	return sink.Result{SuccessCount: len(records)}, nil
}

func newEngine(t *testing.T, s sink.Sink, acker Acker) *Engine {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewIngestion(reg)
	log := logx.New("error")
	n := notify.New(notify.DefaultConfig(), log)
	return &Engine{
		sink: s, acker: acker, notify: n, log: log, metrics: m,
		cfg:     DefaultConfig(),
		delayFn: func(classify.Class, int) time.Duration { return 0 },
	}
}

func TestDeliverySucceedsOnFirstAttempt(t *testing.T) {
	acker := &fakeAcker{}
	s := &fakeSink{}
	e := newEngine(t, s, acker)

	b := batch.Batch{Records: []batch.Record{{Offset: 5, Bytes: []byte("x")}}, HighOffset: 5}
	e.Deliver(context.Background(), 0, b)

	require.Equal(t, []uint64{5}, acker.acked())
}

// Sink reports buffer-full on attempts 0-2, succeeds on attempt 3; the
// batch must still be acknowledged after the three retries.
func TestBufferFullThenSuccessAcknowledges(t *testing.T) {
	acker := &fakeAcker{}
	s := &fakeSink{errs: []error{
		fmt.Errorf("buffer full"),
		fmt.Errorf("buffer is full"),
		fmt.Errorf("service fault"),
	}}
	e := newEngine(t, s, acker)

	b := batch.Batch{Records: []batch.Record{{Offset: 1, Bytes: []byte("x")}}, HighOffset: 1}
	e.Deliver(context.Background(), 0, b)

	require.Equal(t, []uint64{1}, acker.acked())
	require.Equal(t, 4, s.calls) // 3 failures + 1 success
}

func TestDeliveryLeavesUnacknowledgedWhenRetriesExhausted(t *testing.T) {
	acker := &fakeAcker{}
	// NETWORK_ISSUE allows 3 attempts; fail every one.
	s := &fakeSink{errs: []error{
		fmt.Errorf("connection reset"),
		fmt.Errorf("connection reset"),
		fmt.Errorf("connection reset"),
	}}
	e := newEngine(t, s, acker)

	b := batch.Batch{Records: []batch.Record{{Offset: 1, Bytes: []byte("x")}}, HighOffset: 1}
	e.Deliver(context.Background(), 0, b)

	require.Empty(t, acker.acked())
}

func TestDeliveryCancelledContextStopsRetrySleep(t *testing.T) {
	acker := &fakeAcker{}
	s := &fakeSink{errs: []error{fmt.Errorf("connection reset")}}
	e := newEngine(t, s, acker)
	e.delayFn = func(classify.Class, int) time.Duration { return time.Hour }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := batch.Batch{Records: []batch.Record{{Offset: 1, Bytes: []byte("x")}}, HighOffset: 1}
	e.Deliver(ctx, 0, b)

	require.Empty(t, acker.acked())
}
