package delivery

import (
	"context"
	"strconv"
	"sync"

	"github.com/wifiloc/wifiloc/internal/ingest/batch"
)

// Pool runs a fixed set of delivery workers fed from one unbuffered
// channel. Each worker owns at most one in-flight batch; Submit blocks
// while every worker is busy, which propagates backpressure to the
// accumulator: a batch stuck in retry holds its worker, and with all
// workers held no new flush can complete.
type Pool struct {
	engine  *Engine
	workers int
	ch      chan batch.Batch
	wg      sync.WaitGroup
}

// NewPool builds a Pool of the given size around e.
func NewPool(e *Engine, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{engine: e, workers: workers, ch: make(chan batch.Batch)}
}

// Start launches the workers. Each reports its in-flight state under its
// own worker label.
func (p *Pool) Start(ctx context.Context) {
	for w := 0; w < p.workers; w++ {
		worker := strconv.Itoa(w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for b := range p.ch {
				p.engine.metrics.SetWorkerInFlight(worker, 1)
				p.engine.Deliver(ctx, 0, b)
				p.engine.metrics.SetWorkerInFlight(worker, 0)
			}
		}()
	}
}

// Submit hands a flushed batch to the next free worker, blocking until
// one is available.
func (p *Pool) Submit(b batch.Batch) {
	p.ch <- b
}

// Stop closes the intake and waits for in-flight deliveries to finish.
// Submit must not be called after Stop.
func (p *Pool) Stop() {
	close(p.ch)
	p.wg.Wait()
}
