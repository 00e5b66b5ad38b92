// Package stats hosts the statistics actor. One logical instance
// serves every tagged scope (source name, job id); all mutation goes
// through its mailbox so counters need no locks.
package stats

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/models"
)

var ErrNoStatsActor = errors.New("stats actor not running")

type entry struct {
	started time.Time
	s       models.Stats
}

// Actor owns the per-tag counters. Mailbox is a channel of closures;
// the loop applies them serially.
type Actor struct {
	logger arbor.ILogger
	calls  chan func(map[string]*entry)
	done   chan struct{}
	wg     sync.WaitGroup
	cron   *cron.Cron

	mu      sync.Mutex
	stopped bool
}

// New starts the actor and its periodic reporting schedule.
func New(logger arbor.ILogger, report time.Duration) *Actor {
	a := &Actor{
		logger: logger,
		calls:  make(chan func(map[string]*entry), 64),
		done:   make(chan struct{}),
	}

	a.wg.Add(1)
	go a.loop()

	if report > 0 {
		a.cron = cron.New()
		a.cron.Schedule(cron.Every(report), cron.FuncJob(a.PrintAll))
		a.cron.Start()
	}
	return a
}

func (a *Actor) loop() {
	defer a.wg.Done()

	tags := make(map[string]*entry)
	for {
		select {
		case call := <-a.calls:
			call(tags)
		case <-a.done:
			// drain whatever is queued, then exit
			for {
				select {
				case call := <-a.calls:
					call(tags)
				default:
					return
				}
			}
		}
	}
}

func (a *Actor) send(call func(map[string]*entry)) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return ErrNoStatsActor
	}
	a.mu.Unlock()

	select {
	case a.calls <- call:
		return nil
	case <-a.done:
		return ErrNoStatsActor
	}
}

// Register creates the tag if absent and starts its clock.
func (a *Actor) Register(tag string) error {
	return a.send(func(tags map[string]*entry) {
		if _, ok := tags[tag]; !ok {
			tags[tag] = &entry{started: time.Now()}
		}
	})
}

// Update adds a delta to the tag's counters. Unknown tags are created
// so sources can report before registering.
func (a *Actor) Update(tag string, delta models.Stats) error {
	return a.send(func(tags map[string]*entry) {
		e, ok := tags[tag]
		if !ok {
			e = &entry{started: time.Now()}
			tags[tag] = e
		}
		e.s = e.s.Add(delta)
	})
}

func (a *Actor) get(tag string, remove bool) (models.Stats, error) {
	reply := make(chan models.Stats, 1)
	err := a.send(func(tags map[string]*entry) {
		e, ok := tags[tag]
		if !ok {
			reply <- models.Stats{}
			return
		}
		s := e.s
		s.Tm = uint64(time.Since(e.started).Seconds())
		if remove {
			delete(tags, tag)
		}
		reply <- s
	})
	if err != nil {
		return models.Stats{}, err
	}
	return <-reply, nil
}

// Get returns a snapshot; Tm is wall-clock seconds since Register.
func (a *Actor) Get(tag string) (models.Stats, error) {
	return a.get(tag, false)
}

// Exit returns the final snapshot and forgets the tag.
func (a *Actor) Exit(tag string) (models.Stats, error) {
	return a.get(tag, true)
}

// Reset zeroes the counters and restarts the clock.
func (a *Actor) Reset(tag string) error {
	return a.send(func(tags map[string]*entry) {
		tags[tag] = &entry{started: time.Now()}
	})
}

// List returns the registered tags, sorted.
func (a *Actor) List() ([]string, error) {
	reply := make(chan []string, 1)
	err := a.send(func(tags map[string]*entry) {
		out := make([]string, 0, len(tags))
		for tag := range tags {
			out = append(out, tag)
		}
		sort.Strings(out)
		reply <- out
	})
	if err != nil {
		return nil, err
	}
	return <-reply, nil
}

// Print logs the current snapshot for one tag.
func (a *Actor) Print(tag string) {
	s, err := a.Get(tag)
	if err != nil {
		return
	}
	a.logger.Info().Str("tag", tag).Msg(s.String())
}

// PrintAll logs every registered tag, the periodic report.
func (a *Actor) PrintAll() {
	tags, err := a.List()
	if err != nil {
		return
	}
	for _, tag := range tags {
		a.Print(tag)
	}
}

// Stop terminates the actor after draining queued updates. Idempotent.
func (a *Actor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	if a.cron != nil {
		a.cron.Stop()
	}
	close(a.done)
	a.wg.Wait()
}
