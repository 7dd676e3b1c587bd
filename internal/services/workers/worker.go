package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/killallgit/vibematch-api/internal/services/generation"
)

var (
	// ErrQueueFull is returned when the pool cannot accept more work
	ErrQueueFull = errors.New("worker queue is full")

	// ErrPoolStopped is returned when dispatching to a pool that is not running
	ErrPoolStopped = errors.New("worker pool is not running")
)

// Runner executes one generation job
type Runner interface {
	Run(ctx context.Context, jobID, prompt string) error
}

// Task is one unit of background work
type Task struct {
	JobID  string `json:"job_id"`
	Prompt string `json:"prompt"`
}

// AbandonFunc is called for each queued task that never reached a worker
// because the pool stopped
type AbandonFunc func(ctx context.Context, task Task)

// WorkerPool runs generation jobs on a fixed set of goroutines fed by a
// bounded queue
type WorkerPool struct {
	runner    Runner
	queue     chan Task
	workers   int
	onAbandon AbandonFunc
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	started   bool
}

var _ generation.Dispatcher = (*WorkerPool)(nil)

// PoolOption configures a WorkerPool
type PoolOption func(*WorkerPool)

// WithAbandonHandler sets the hook for queued tasks dropped at shutdown
func WithAbandonHandler(fn AbandonFunc) PoolOption {
	return func(p *WorkerPool) {
		p.onAbandon = fn
	}
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(runner Runner, workerCount, queueSize int, opts ...PoolOption) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	p := &WorkerPool{
		runner:  runner,
		queue:   make(chan Task, queueSize),
		workers: workerCount,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start starts all workers
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("worker pool already started")
	}

	log.Info("Starting worker pool", "workers", p.workers, "queue_size", cap(p.queue))

	p.stopChan = make(chan struct{})
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, fmt.Sprintf("worker-%d", i+1))
	}

	p.started = true
	return nil
}

// Dispatch enqueues a job without blocking
func (p *WorkerPool) Dispatch(ctx context.Context, jobID, prompt string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolStopped
	}

	select {
	case p.queue <- Task{JobID: jobID, Prompt: prompt}:
		log.Debug("Dispatched generation", "job_id", jobID, "queued", len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop signals the workers, hands every still-queued task to the abandon
// hook and waits for in-flight jobs until ctx expires. Jobs still running
// after that are picked up by the stale job sweep.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	close(p.stopChan)
	p.mu.Unlock()

	log.Info("Stopping worker pool")
	p.drain()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// QueueLength returns the number of jobs waiting for a worker
func (p *WorkerPool) QueueLength() int {
	return len(p.queue)
}

func (p *WorkerPool) run(ctx context.Context, id string) {
	defer p.wg.Done()

	log.Debug("Worker starting", "worker", id)
	defer log.Debug("Worker stopped", "worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case task := <-p.queue:
			// select picks randomly among ready cases; a task taken after
			// shutdown began is abandoned rather than started.
			if p.stopping(ctx) {
				p.abandon(task)
				return
			}
			p.process(ctx, id, task)
		}
	}
}

func (p *WorkerPool) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-p.stopChan:
		return true
	default:
		return false
	}
}

// drain empties the queue. Dispatch is already refused, so nothing refills it.
func (p *WorkerPool) drain() {
	for {
		select {
		case task := <-p.queue:
			p.abandon(task)
		default:
			return
		}
	}
}

func (p *WorkerPool) abandon(task Task) {
	log.Warn("Dropping queued generation at shutdown", "job_id", task.JobID)
	if p.onAbandon != nil {
		p.onAbandon(context.Background(), task)
	}
}

func (p *WorkerPool) process(ctx context.Context, id string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker recovered from panic", "worker", id, "job_id", task.JobID, "panic", r)
		}
	}()

	log.Info("Worker picked up job", "worker", id, "job_id", task.JobID)
	// Request and shutdown cancellation never interrupt a running job.
	if err := p.runner.Run(context.WithoutCancel(ctx), task.JobID, task.Prompt); err != nil {
		log.Warn("Generation ended with error", "worker", id, "job_id", task.JobID, "err", err)
		return
	}
	log.Info("Worker completed job", "worker", id, "job_id", task.JobID)
}
