// Package workers provides a bounded worker pool used to run the OCR and
// LLM extraction stages without unbounded goroutine growth.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of work.
type Job func(ctx context.Context) error

// Pool runs submitted jobs on a fixed set of workers over a bounded queue.
type Pool struct {
	name       string
	workers    int
	queueSize  int
	jobTimeout time.Duration

	jobs      chan Job
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex // guards stopped and the send against close(jobs)
	stopped bool
}

// Option configures a Pool.
type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.jobTimeout = d
		}
	}
}

// NewPool builds a pool with 4 workers, a queue of 64 and a 5 minute job
// timeout unless overridden.
func NewPool(name string, opts ...Option) *Pool {
	p := &Pool{
		name:       name,
		workers:    4,
		queueSize:  64,
		jobTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.jobs = make(chan Job, p.queueSize)
	return p
}

// Start launches the workers. Safe to call more than once.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
		slog.Info("worker pool started", "pool", p.name, "workers", p.workers, "queue", p.queueSize)
	})
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
		if err := job(ctx); err != nil {
			slog.Error("job failed", "pool", p.name, "worker", id, "err", err)
		}
		cancel()
	}
}

// ErrQueueFull is returned when the queue cannot take another job.
var ErrQueueFull = errors.New("worker queue full")

// ErrStopped is returned after Stop.
var ErrStopped = errors.New("worker pool stopped")

// Submit enqueues a job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight jobs to finish. The close
// happens under the same lock as Submit's send, so a racing Submit either
// lands before the close or sees the pool stopped.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.wg.Wait()
		slog.Info("worker pool stopped", "pool", p.name)
	})
}
