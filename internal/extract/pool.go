package extract

import (
	"context"
	"log/slog"
	"sync"

	gateway "github.com/campersurfer/autopicker/internal"
)

// job is a unit of extraction work submitted to the Pool.
type job struct {
	fn func(ctx context.Context)
}

// Pool is a bounded CPU-worker pool for extraction jobs. Submit never blocks:
// a full queue returns gateway.ErrQueueFull immediately so the caller can
// respond 503 rather than piling up memory.
type Pool struct {
	jobs    chan job
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewPool creates a Pool with the given worker count and queue depth, and
// starts its workers immediately against ctx; Stop (or ctx cancellation)
// drains and shuts it down.
func NewPool(ctx context.Context, workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = workers * 4
	}
	runCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		jobs:   make(chan job, queueDepth),
		cancel: cancel,
	}
	for range workers {
		p.wg.Add(1)
		go p.worker(runCtx)
	}
	p.started = true
	return p
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			j.fn(ctx)
		}
	}
}

// Submit enqueues fn for execution on a pool worker. It returns
// gateway.ErrQueueFull immediately if the queue is full rather than
// blocking the caller.
func (p *Pool) Submit(fn func(ctx context.Context)) error {
	select {
	case p.jobs <- job{fn: fn}:
		return nil
	default:
		slog.Warn("extraction pool queue full, rejecting job")
		return gateway.ErrQueueFull
	}
}

// Stop signals all workers to exit and waits for them to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.started = false
}
