package scheduler

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/models"
)

// JobRunner executes one job to completion. The engine supplies it;
// the pool only bounds concurrency.
type JobRunner func(ctx context.Context, job *models.Job)

// Pool is the bounded worker factory jobs are dispatched into.
type Pool struct {
	run    JobRunner
	slots  chan struct{}
	wg     sync.WaitGroup
	logger arbor.ILogger
}

// NewPool sizes the factory; size workers may run at once.
func NewPool(size int, run JobRunner, logger arbor.ILogger) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		run:    run,
		slots:  make(chan struct{}, size),
		logger: logger,
	}
	for range size {
		p.slots <- struct{}{}
	}
	return p
}

// TryAcquire claims an executor slot without blocking.
func (p *Pool) TryAcquire() bool {
	select {
	case <-p.slots:
		return true
	default:
		return false
	}
}

// Release returns an unused slot.
func (p *Pool) Release() {
	p.slots <- struct{}{}
}

// Dispatch runs the job on its own goroutine, holding the slot the
// caller acquired until the job completes.
func (p *Pool) Dispatch(ctx context.Context, job *models.Job) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.Release()

		p.logger.Info().Int64("job", int64(job.ID)).Str("name", job.Name).Msg("Worker picked up job")
		p.run(ctx, job)
	}()
}

// Wait blocks until every in-flight job is done.
func (p *Pool) Wait() {
	p.wg.Wait()
}
