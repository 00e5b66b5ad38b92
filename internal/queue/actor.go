// Package queue hosts the job queue actor: three ordered sequences
// (waiting, running, finished) plus the monotonic id allocator. The
// actor is single-threaded so every operation is serialized and jobs
// dispatch strictly in submission order.
package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/models"
)

var ErrJobNotReady = errors.New("job not in ready state")

type queues struct {
	last     uint64
	waiting  []*models.Job
	running  []*models.Job
	finished []*models.Job
}

// Actor owns the queues. Mailbox is a channel of closures applied
// serially by the loop.
type Actor struct {
	logger arbor.ILogger
	calls  chan func(*queues)
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New starts the queue actor; lastID seeds the allocator from the
// persisted state.
func New(lastID uint64, logger arbor.ILogger) *Actor {
	a := &Actor{
		logger: logger,
		calls:  make(chan func(*queues), 32),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.loop(lastID)
	return a
}

func (a *Actor) loop(lastID uint64) {
	defer a.wg.Done()

	q := &queues{last: lastID}
	for {
		select {
		case call := <-a.calls:
			call(q)
		case <-a.done:
			for {
				select {
				case call := <-a.calls:
					call(q)
				default:
					return
				}
			}
		}
	}
}

func (a *Actor) send(call func(*queues)) {
	select {
	case a.calls <- call:
	case <-a.done:
	}
}

// Allocate hands out the next monotonic job id.
func (a *Actor) Allocate() uint64 {
	reply := make(chan uint64, 1)
	a.send(func(q *queues) {
		q.last++
		reply <- q.last
	})
	select {
	case id := <-reply:
		return id
	case <-a.done:
		return 0
	}
}

// LastID returns the allocator's high-water mark.
func (a *Actor) LastID() uint64 {
	reply := make(chan uint64, 1)
	a.send(func(q *queues) { reply <- q.last })
	select {
	case id := <-reply:
		return id
	case <-a.done:
		return 0
	}
}

// Add appends a ready job to the waiting queue, allocating its id if
// the job has none yet.
func (a *Actor) Add(job *models.Job) (uint64, error) {
	reply := make(chan error, 1)
	a.send(func(q *queues) {
		if job.State != models.JobStateReady {
			reply <- fmt.Errorf("%w: job %d is %s", ErrJobNotReady, job.ID, job.State)
			return
		}
		if job.ID == 0 {
			q.last++
			job.ID = q.last
		} else if job.ID > q.last {
			q.last = job.ID
		}
		q.waiting = append(q.waiting, job)
		reply <- nil
	})
	select {
	case err := <-reply:
		return job.ID, err
	case <-a.done:
		return 0, ErrJobNotReady
	}
}

// Run pops the head of waiting into running. Returns nil when nothing
// waits.
func (a *Actor) Run() *models.Job {
	reply := make(chan *models.Job, 1)
	a.send(func(q *queues) {
		if len(q.waiting) == 0 {
			reply <- nil
			return
		}
		job := q.waiting[0]
		q.waiting = q.waiting[1:]
		job.State = models.JobStateRunning
		q.running = append(q.running, job)
		reply <- job
	})
	select {
	case job := <-reply:
		return job
	case <-a.done:
		return nil
	}
}

// Finished moves the matching running entry into finished, recording
// its terminal state.
func (a *Actor) Finished(id uint64, state models.JobState, errMsg string) {
	a.send(func(q *queues) {
		for i, job := range q.running {
			if job.ID != id {
				continue
			}
			q.running = append(q.running[:i], q.running[i+1:]...)
			job.State = state
			job.Error = errMsg
			q.finished = append(q.finished, job)
			return
		}
		a.logger.Warn().Int64("job", int64(id)).Msg("Finished for a job not in running")
	})
}

// Empty reports whether both the waiting and the running queues are empty.
func (a *Actor) Empty() bool {
	reply := make(chan bool, 1)
	a.send(func(q *queues) {
		reply <- len(q.waiting) == 0 && len(q.running) == 0
	})
	select {
	case e := <-reply:
		return e
	case <-a.done:
		return true
	}
}

// Snapshot captures every queue for introspection and persistence.
type Snapshot struct {
	Waiting  []*models.Job
	Running  []*models.Job
	Finished []*models.Job
}

// List returns a copy of the three queues.
func (a *Actor) List() Snapshot {
	reply := make(chan Snapshot, 1)
	a.send(func(q *queues) {
		reply <- Snapshot{
			Waiting:  append([]*models.Job(nil), q.waiting...),
			Running:  append([]*models.Job(nil), q.running...),
			Finished: append([]*models.Job(nil), q.finished...),
		}
	})
	select {
	case s := <-reply:
		return s
	case <-a.done:
		return Snapshot{}
	}
}

// RemoveByID drops a job from whichever queue holds it.
func (a *Actor) RemoveByID(id uint64) {
	a.send(func(q *queues) {
		drop := func(list []*models.Job) []*models.Job {
			for i, job := range list {
				if job.ID == id {
					return append(list[:i], list[i+1:]...)
				}
			}
			return list
		}
		q.waiting = drop(q.waiting)
		q.running = drop(q.running)
		q.finished = drop(q.finished)
	})
}

// WaitingDigest renders the waiting queue as a comma-separated id
// list for the state file.
func (a *Actor) WaitingDigest() string {
	s := a.List()
	ids := make([]string, 0, len(s.Waiting))
	for _, job := range s.Waiting {
		ids = append(ids, strconv.FormatUint(job.ID, 10))
	}
	return strings.Join(ids, ",")
}

// Stop terminates the actor after draining queued calls.
func (a *Actor) Stop() {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
}
