// Package scheduler drives job dispatch: a timer tick pulls the head
// of the waiting queue into the bounded worker pool. The actor is a
// small state machine; illegal transitions fail with WrongState.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/queue"
)

// Mode is the scheduler's lifecycle state.
type Mode int

const (
	Starting Mode = iota
	Idle
	Running
	Suspended
	Exiting
)

func (m Mode) String() string {
	switch m {
	case Starting:
		return "starting"
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Exiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// WrongState reports an illegal transition.
type WrongState struct {
	Op   string
	From Mode
}

func (e *WrongState) Error() string {
	return fmt.Sprintf("cannot %s from %s", e.Op, e.From)
}

// Actor pumps jobs from the queue into the pool on each tick.
type Actor struct {
	queue  *queue.Actor
	pool   *Pool
	tick   time.Duration
	logger arbor.ILogger

	mu   sync.Mutex
	mode Mode

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the scheduler in Starting; Start launches the tick loop.
func New(q *queue.Actor, pool *Pool, tick time.Duration, logger arbor.ILogger) *Actor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Actor{
		queue:  q,
		pool:   pool,
		tick:   tick,
		logger: logger,
		mode:   Starting,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Mode returns the current state.
func (s *Actor) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Start moves Starting to Idle and begins ticking.
func (s *Actor) Start() error {
	s.mu.Lock()
	if s.mode != Starting {
		defer s.mu.Unlock()
		return &WrongState{Op: "start", From: s.mode}
	}
	s.mode = Idle
	s.mu.Unlock()

	go s.loop()
	s.logger.Debug().Dur("tick", s.tick).Msg("Scheduler started")
	return nil
}

func (s *Actor) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

// onTick dispatches at most one job. A saturated pool makes the tick
// a no-op: the job stays head-of-queue.
func (s *Actor) onTick() {
	s.mu.Lock()
	if s.mode != Idle {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.queue.Empty() {
		return
	}
	if !s.pool.TryAcquire() {
		return
	}

	job := s.queue.Run()
	if job == nil {
		s.pool.Release()
		return
	}

	s.mu.Lock()
	s.mode = Running
	s.mu.Unlock()

	s.pool.Dispatch(s.ctx, job)

	s.mu.Lock()
	if s.mode == Running {
		s.mode = Idle
	}
	s.mu.Unlock()
}

// Suspend pauses dispatch; ticks are ignored until Resume.
func (s *Actor) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Idle {
		return &WrongState{Op: "suspend", From: s.mode}
	}
	s.mode = Suspended
	return nil
}

// Resume reverses Suspend.
func (s *Actor) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Suspended {
		return &WrongState{Op: "resume", From: s.mode}
	}
	s.mode = Idle
	return nil
}

// Stop moves to Exiting from any state and waits for in-flight
// dispatch to complete. Idempotent.
func (s *Actor) Stop() {
	s.mu.Lock()
	started := s.mode != Starting && s.mode != Exiting
	s.mode = Exiting
	s.mu.Unlock()

	s.cancel()
	if started {
		<-s.done
	}
	s.pool.Wait()
}
