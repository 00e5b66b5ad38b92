// Package engine is the public facade of the acquisition runtime: it
// parses job descriptions, schedules them on the worker pool, and
// owns every subsystem actor under one supervisor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/queue"
	"github.com/keltia/fetiche/internal/runtime"
	"github.com/keltia/fetiche/internal/scheduler"
	"github.com/keltia/fetiche/internal/sources"
	"github.com/keltia/fetiche/internal/state"
	"github.com/keltia/fetiche/internal/stats"
	"github.com/keltia/fetiche/internal/storage"
	"github.com/keltia/fetiche/internal/tokens"
)

var ErrEngineClosed = errors.New("engine is shut down")

type jobResult struct {
	stats models.Stats
	err   error
}

// Engine owns the actor tree. Construct with New, tear down with
// Shutdown.
type Engine struct {
	cfg    *common.Config
	logger arbor.ILogger

	sources *sources.Registry
	storage *storage.Registry
	tokens  *tokens.Store
	state   *state.Actor
	queue   *queue.Actor
	stats   *stats.Actor
	pool    *scheduler.Pool
	sched   *scheduler.Actor
	sup     *Supervisor

	// stdout backs the Save "-" destination, swappable for tests.
	stdout io.Writer

	mu      sync.Mutex
	waiters map[uint64]chan jobResult
	cancels map[uint64]context.CancelFunc
	closed  bool

	shutdownOnce sync.Once
}

// New wires every subsystem in dependency order and starts the
// scheduler.
func New(cfg *common.Config, logger arbor.ILogger) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		stdout:  os.Stdout,
		waiters: make(map[uint64]chan jobResult),
		cancels: make(map[uint64]context.CancelFunc),
	}

	var err error
	e.tokens, err = tokens.NewStore(cfg.Engine.TokenDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}

	e.storage, err = storage.NewRegistry(cfg.Engine.BaseDir, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	e.sources, err = sources.NewRegistry(cfg, e.tokens, logger)
	if err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}

	e.state, err = state.NewActor(cfg.Engine.StateFile(), cfg.Engine.Sync(), logger)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}

	e.stats = stats.New(logger, cfg.Engine.Stats())
	e.queue = queue.New(e.state.LastID(), logger)
	e.pool = scheduler.NewPool(cfg.Engine.PoolSize(), e.runJob, logger)
	e.sched = scheduler.New(e.queue, e.pool, cfg.Engine.Tick(), logger)

	e.sup = NewSupervisor(logger, func(name string, err error) {
		logger.Error().Err(err).Str("child", name).Msg("Critical failure, shutting engine down")
		go e.Shutdown()
	})

	// stop order is the reverse of registration
	e.sup.Register("state", func() {
		if err := e.state.Close(); err != nil {
			logger.Warn().Err(err).Msg("Final state sync failed")
		}
	})
	e.sup.Register("stats", e.stats.Stop)
	e.sup.Register("queue", e.queue.Stop)
	e.sup.Register("scheduler", e.sched.Stop)

	if err := e.sched.Start(); err != nil {
		return nil, err
	}

	logger.Info().Str("version", e.Version()).Int("workers", cfg.Engine.PoolSize()).Msg("Engine up")
	return e, nil
}

// Version combines the engine, formats and common identifiers.
func (e *Engine) Version() string {
	return common.EngineBanner()
}

// SetStdout redirects the Save "-" destination.
func (e *Engine) SetStdout(w io.Writer) {
	e.stdout = w
}

// CreateJob allocates an id from the queue and returns an empty job
// in Ready.
func (e *Engine) CreateJob(name string) *models.Job {
	job := models.NewJob(name)
	job.ID = e.queue.Allocate()
	return job
}

// SubmitJobAndWait enqueues the job and blocks until it reaches a
// terminal state, returning its final statistics. Cancelling ctx
// cancels the job.
func (e *Engine) SubmitJobAndWait(ctx context.Context, job *models.Job) (models.Stats, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return models.Stats{}, ErrEngineClosed
	}
	if job.ID == 0 {
		job.ID = e.queue.Allocate()
	}
	ch := make(chan jobResult, 1)
	e.waiters[job.ID] = ch
	e.mu.Unlock()

	if _, err := e.queue.Add(job); err != nil {
		e.mu.Lock()
		delete(e.waiters, job.ID)
		e.mu.Unlock()
		return models.Stats{}, err
	}

	e.state.SetLastID(e.queue.LastID())
	e.state.Set("waiting", e.queue.WaitingDigest())

	select {
	case res := <-ch:
		return res.stats, res.err
	case <-ctx.Done():
		e.cancelJob(job.ID)
		// the runner still reports the final state
		res := <-ch
		if res.err == nil {
			res.err = ctx.Err()
		}
		return res.stats, res.err
	}
}

func (e *Engine) cancelJob(id uint64) {
	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	} else {
		// never dispatched, drop it from waiting
		e.queue.RemoveByID(id)
		e.notify(id, jobResult{err: context.Canceled})
	}
}

func (e *Engine) notify(id uint64, res jobResult) {
	e.mu.Lock()
	ch := e.waiters[id]
	delete(e.waiters, id)
	delete(e.cancels, id)
	e.mu.Unlock()
	if ch != nil {
		ch <- res
	}
}

// runJob executes one dispatched job on a pool worker.
func (e *Engine) runJob(ctx context.Context, job *models.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancels[job.ID] = cancel
	e.mu.Unlock()

	tag := job.Tag()
	if err := e.stats.Register(tag); err != nil {
		e.logger.Warn().Err(err).Msg("Stats registration failed")
	}

	opts := runtime.Options{
		Depth: e.cfg.Engine.Depth(),
		Grace: e.cfg.Engine.GraceWindow(),
	}
	err := e.sup.protect(fmt.Sprintf("job/%d", job.ID), func() error {
		return runtime.Run(jobCtx, job, opts, func(d models.Stats) {
			_ = e.stats.Update(tag, d)
		}, e.logger)
	})

	final, statsErr := e.stats.Exit(tag)
	if statsErr != nil {
		e.logger.Warn().Err(statsErr).Msg("Cannot collect final stats")
	}

	var terminal models.JobState
	var msg string
	switch {
	case err == nil && jobCtx.Err() != nil:
		// tasks drained cleanly after an external cancel
		terminal = models.JobStateCancelled
	case err == nil:
		terminal = models.JobStateFinished
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		terminal = models.JobStateCancelled
		msg = err.Error()
	default:
		terminal = models.JobStateFailed
		msg = err.Error()
	}

	e.queue.Finished(job.ID, terminal, msg)
	e.state.SetLastID(e.queue.LastID())
	e.state.Set("waiting", e.queue.WaitingDigest())

	e.logger.Info().
		Int64("job", int64(job.ID)).
		Str("state", string(terminal)).
		Str("stats", final.String()).
		Msg("Job done")

	e.notify(job.ID, jobResult{stats: final, err: err})
}

// Shutdown tears everything down in order: no new jobs, running jobs
// cancelled, stats drained, state synced, supervisor stopped.
// Idempotent.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Info().Msg("Engine shutting down")

		e.mu.Lock()
		e.closed = true
		cancels := make([]context.CancelFunc, 0, len(e.cancels))
		for _, c := range e.cancels {
			cancels = append(cancels, c)
		}
		e.mu.Unlock()

		for _, cancel := range cancels {
			cancel()
		}

		e.sup.Stop()
		if err := e.storage.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("Storage close failed")
		}
		e.logger.Info().Msg("Engine stopped")
	})
}
