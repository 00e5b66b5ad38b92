package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ternarybob/arbor"
)

// Policy decides what happens when a supervised child fails.
type Policy int

const (
	// OneShot children run once; a panic is turned into an error and
	// reported, nothing restarts.
	OneShot Policy = iota
	// Restart children are relaunched with exponential back-off up to
	// a cap; used for workers and long-running adapters.
	Restart
	// Critical children escalate: their failure shuts the engine down.
	Critical
)

const restartCap = 5

// Supervisor roots the actor tree: it owns the ordered stop list so
// one broadcast tears every descendant down, and it applies the
// restart policy to spawned children.
type Supervisor struct {
	logger     arbor.ILogger
	onCritical func(name string, err error)

	mu    sync.Mutex
	stops []namedStop
	wg    sync.WaitGroup
}

type namedStop struct {
	name string
	stop func()
}

func NewSupervisor(logger arbor.ILogger, onCritical func(name string, err error)) *Supervisor {
	return &Supervisor{logger: logger, onCritical: onCritical}
}

// Register adds a child's stop hook. Children stop in reverse
// registration order on broadcast.
func (s *Supervisor) Register(name string, stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops = append(s.stops, namedStop{name, stop})
}

// Spawn runs a child under the given policy.
func (s *Supervisor) Spawn(name string, policy Policy, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		switch policy {
		case Restart:
			retry := backoff.NewExponentialBackOff()
			retry.MaxInterval = 30 * time.Second
			for attempt := 0; attempt <= restartCap; attempt++ {
				err := s.protect(name, fn)
				if err == nil {
					return
				}
				wait := retry.NextBackOff()
				s.logger.Warn().Err(err).Str("child", name).Int("attempt", attempt+1).
					Dur("backoff", wait).Msg("Child failed, restarting")
				time.Sleep(wait)
			}
			s.logger.Error().Str("child", name).Msg("Child exceeded restart cap")

		case Critical:
			if err := s.protect(name, fn); err != nil {
				s.logger.Error().Err(err).Str("child", name).Msg("Critical child failed")
				if s.onCritical != nil {
					s.onCritical(name, err)
				}
			}

		default:
			if err := s.protect(name, fn); err != nil {
				s.logger.Warn().Err(err).Str("child", name).Msg("Child failed")
			}
		}
	}()
}

// protect turns a child panic into an error so a broken pipeline
// never takes the process down.
func (s *Supervisor) protect(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("child %s panicked: %v", name, r)
		}
	}()
	return fn()
}

// Stop broadcasts shutdown: children stop in reverse registration
// order, then spawned goroutines are awaited.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()

	for i := len(stops) - 1; i >= 0; i-- {
		s.logger.Debug().Str("child", stops[i].name).Msg("Stopping child")
		stops[i].stop()
	}
	s.wg.Wait()
}
