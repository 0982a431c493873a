package alerts

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mbd888/riskgate/internal/logging"
	"github.com/mbd888/riskgate/internal/metrics"
)

// AsyncRaiser queues alert requests and persists them on background
// workers, so a slow alert store never delays a decision. When the queue is
// full the request is dropped and counted.
type AsyncRaiser struct {
	next   Raiser
	queue  chan queued
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

type queued struct {
	ctx context.Context
	req Request
}

// NewAsyncRaiser starts workers goroutines draining a queue of size buffer.
func NewAsyncRaiser(next Raiser, workers, buffer int, logger *slog.Logger) *AsyncRaiser {
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &AsyncRaiser{
		next:   next,
		queue:  make(chan queued, buffer),
		logger: logger,
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.work()
	}
	return r
}

// Raise enqueues req without blocking. The request context's values are
// kept but its cancellation is not, since the HTTP request usually ends first.
func (r *AsyncRaiser) Raise(ctx context.Context, req Request) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		logging.L(ctx).Warn("alert dropped after shutdown", "type", req.Type)
		metrics.AlertQueueDropped.Inc()
		return
	}

	select {
	case r.queue <- queued{ctx: context.WithoutCancel(ctx), req: req}:
	default:
		logging.L(ctx).Warn("alert queue full, dropping alert", "type", req.Type)
		metrics.AlertQueueDropped.Inc()
	}
}

func (r *AsyncRaiser) work() {
	defer r.wg.Done()
	for q := range r.queue {
		r.next.Raise(q.ctx, q.req)
	}
}

// Close stops accepting requests and waits for queued ones to be written,
// or for ctx to expire.
func (r *AsyncRaiser) Close(ctx context.Context) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("alert queue not fully drained before shutdown")
		return ctx.Err()
	}
}
