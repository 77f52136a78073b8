// Package worker runs a fixed number of goroutines that pull video ids from
// the job queue and hand them to the pipeline processor.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aihpi/workshop-video-search/internal/jobqueue"
	"github.com/aihpi/workshop-video-search/internal/metrics"
	"github.com/aihpi/workshop-video-search/internal/pipeline"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 2

// Processor drives one video id to an outcome.
type Processor interface {
	Process(ctx context.Context, id string) pipeline.Outcome
}

// Snapshot is a point-in-time view of the pool.
type Snapshot struct {
	QueueLength   int      `json:"queueLength"`
	ProcessingIDs []string `json:"processingIds"`
}

// Pool runs a fixed number of workers that drain the job queue.
type Pool struct {
	queue    *jobqueue.Queue
	proc     Processor
	workers  int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	inflight *inflight

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the worker count; values below one are ignored.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records queue and outcome counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// NewPool returns a stopped pool reading from queue.
func NewPool(queue *jobqueue.Queue, proc Processor, opts ...Option) *Pool {
	p := &Pool{
		queue:    queue,
		proc:     proc,
		workers:  DefaultWorkers,
		logger:   slog.Default(),
		inflight: newInflight(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.metrics.RegisterQueueLength(queue.Len)
	return p
}

// Start launches the workers. Calling Start on a running pool logs and returns.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.logger.Warn("worker pool already running")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < p.workers; i++ {
		workerID := i
		g.Go(func() error {
			p.work(gctx, workerID)
			return nil
		})
	}
	p.cancel = cancel
	p.group = g
	p.logger.Info("worker pool started", "workers", p.workers)
	return nil
}

// Stop tells the workers to leave their dequeue wait, waits for them to
// return, and clears pool state. Items being processed stop at the next
// stage boundary.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return
	}
	p.cancel()
	if err := p.group.Wait(); err != nil {
		p.logger.Error("worker pool exited with error", "error", err)
	}
	p.cancel = nil
	p.group = nil
	p.inflight.clear()
	p.logger.Info("worker pool stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Enqueue adds a video id to the queue.
func (p *Pool) Enqueue(id string) {
	p.queue.Enqueue(id)
	p.metrics.Enqueued()
	p.logger.Debug("video enqueued", "video_id", id, "queue_length", p.queue.Len())
}

// Status reports the queue length and the ids being processed.
func (p *Pool) Status() Snapshot {
	return Snapshot{
		QueueLength:   p.queue.Len(),
		ProcessingIDs: p.inflight.snapshot(),
	}
}

func (p *Pool) work(ctx context.Context, workerID int) {
	logger := p.logger.With("worker", workerID)
	logger.Debug("worker started")
	for {
		id, ok := p.queue.Dequeue(ctx)
		if !ok {
			logger.Debug("worker exiting")
			return
		}
		p.handle(ctx, logger, id)
	}
}

func (p *Pool) handle(ctx context.Context, logger *slog.Logger, id string) {
	p.inflight.add(id)
	p.metrics.Started()
	out := pipeline.Outcome{VideoID: id, Kind: pipeline.OutcomeFailed}

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
			logger.Error("worker recovered from panic", "video_id", id, "panic", r, "stack", string(debug.Stack()))
		}
		p.inflight.remove(id)
		p.metrics.Finished(out)
	}()

	out = p.proc.Process(ctx, id)

	switch out.Kind {
	case pipeline.OutcomeFailed:
		logger.Error("video failed", "video_id", id, "error", out.Err)
	case pipeline.OutcomeCompleted:
		if out.Visual.Kind == pipeline.VisualFailed {
			logger.Warn("video completed without visual index", "video_id", id, "error", out.Visual.Err)
		}
	}
}
