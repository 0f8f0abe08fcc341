package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// JobRunner executes one job. *Runner implements it.
type JobRunner interface {
	Run(ctx context.Context, job Job) error
}

// DispatcherConfig configures the worker pool.
type DispatcherConfig struct {
	// QueueSize is the number of jobs that may wait for a worker (default: 100).
	QueueSize int

	// Workers is the number of analyses executed at once (default: 4).
	Workers int
}

// Dispatcher runs analyses on a fixed pool of workers fed by a bounded queue.
// Submission never blocks: a full queue is reported to the caller and the
// analysis stays pending for the recovery sweep.
type Dispatcher struct {
	runner  JobRunner
	queue   chan Job
	workers int
	logger  *slog.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	queued  map[uuid.UUID]struct{}
	running map[uuid.UUID]context.CancelFunc
	stopped bool

	wg       sync.WaitGroup
	stopChan chan struct{}
}

var _ Enqueuer = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher. Call Start to launch the workers.
func NewDispatcher(runner JobRunner, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		runner:    runner,
		queue:     make(chan Job, cfg.QueueSize),
		workers:   cfg.Workers,
		logger:    logger,
		baseCtx:   ctx,
		cancelAll: cancel,
		queued:    make(map[uuid.UUID]struct{}),
		running:   make(map[uuid.UUID]context.CancelFunc),
		stopChan:  make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue schedules job. A job already queued or running is accepted without
// being scheduled twice.
func (d *Dispatcher) Enqueue(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	if _, ok := d.queued[job.AnalysisID]; ok {
		return nil
	}
	if _, ok := d.running[job.AnalysisID]; ok {
		return nil
	}

	select {
	case d.queue <- job:
		d.queued[job.AnalysisID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Abort cancels the context of a running analysis. It reports whether the
// analysis was running in this process.
func (d *Dispatcher) Abort(analysisID uuid.UUID) bool {
	d.mu.Lock()
	cancel, ok := d.running[analysisID]
	d.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// Running reports whether analysisID is executing in this process.
func (d *Dispatcher) Running(analysisID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[analysisID]
	return ok
}

// QueueDepth returns the number of jobs waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Stop refuses new jobs and waits for running ones. When ctx expires first,
// running analyses are aborted and Stop returns ctx.Err() once they return.
// Jobs still queued stay pending in the database.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.stopChan)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelAll()
		return nil
	case <-ctx.Done():
		d.cancelAll()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopChan:
			return
		case job := <-d.queue:
			d.execute(job)
		}
	}
}

func (d *Dispatcher) execute(job Job) {
	ctx, cancel := context.WithCancel(d.baseCtx)
	defer cancel()

	d.mu.Lock()
	delete(d.queued, job.AnalysisID)
	d.running[job.AnalysisID] = cancel
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.running, job.AnalysisID)
		d.mu.Unlock()
	}()

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("analysis job panicked", "analysis_id", job.AnalysisID, "panic", p)
		}
	}()

	if err := d.runner.Run(ctx, job); err != nil {
		d.logger.Error("analysis job failed", "analysis_id", job.AnalysisID, "org_id", job.Tenant.OrgID, "error", err)
	}
}
