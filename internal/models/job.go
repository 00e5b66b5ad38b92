package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a job
type JobState string

const (
	JobStateReady     JobState = "ready"
	JobStateRunning   JobState = "running"
	JobStateFinished  JobState = "finished"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether a job in this state will never run again.
func (s JobState) Terminal() bool {
	return s == JobStateFinished || s == JobStateFailed || s == JobStateCancelled
}

// JobKind distinguishes jobs whose producer terminates naturally (fetch,
// read) from long-running ones (stream).
type JobKind string

const (
	KindFetch  JobKind = "fetch"
	KindRead   JobKind = "read"
	KindStream JobKind = "stream"
)

// Cap is the I/O capability of a task within a pipeline.
type Cap int

const (
	CapNone Cap = iota
	CapProducer
	CapFilter
	CapMiddle
	CapConsumer
)

func (c Cap) String() string {
	switch c {
	case CapProducer:
		return "producer"
	case CapFilter:
		return "filter"
	case CapMiddle:
		return "middle"
	case CapConsumer:
		return "consumer"
	default:
		return "none"
	}
}

// StatFn is called by tasks to report counter deltas to the stats actor.
type StatFn func(Stats)

// Runnable is one node of a job pipeline. Frames are text records or
// batches; a task reads from in until it is closed and sends on out.
// The runtime closes out after Run returns. The producer (position 0)
// receives a one-shot kickoff frame followed by EOF.
type Runnable interface {
	Name() string
	Cap() Cap
	Run(ctx context.Context, in <-chan string, out chan<- string, st StatFn) error
}

var ErrEmptyJob = errors.New("empty task list")

// ShapeError reports a pipeline whose task sequence violates the
// producer/middle/consumer ordering rules.
type ShapeError struct {
	Pos    int
	Got    Cap
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("bad pipeline shape at task %d (%s): %s", e.Pos, e.Got, e.Detail)
}

// Job is a user-submitted unit of work, internally a linear pipeline
// of tasks. Mutated only by the scheduler once enqueued.
type Job struct {
	// ID is the queue-allocated monotonic identifier, used for FIFO ordering.
	ID uint64
	// UUID is the stable external identifier.
	UUID    string
	Name    string
	Kind    JobKind
	State   JobState
	Owner   string
	Created time.Time
	Tasks   []Runnable
	// Error holds the failure reason when State is failed.
	Error string
}

// NewJob creates an empty job in the ready state. The queue assigns ID
// when the job is enqueued.
func NewJob(name string) *Job {
	return &Job{
		UUID:    uuid.New().String(),
		Name:    name,
		State:   JobStateReady,
		Created: time.Now(),
	}
}

// Add appends a task to the pipeline. Chainable.
func (j *Job) Add(t Runnable) *Job {
	if j.State.Terminal() {
		return j
	}
	j.Tasks = append(j.Tasks, t)
	return j
}

// Validate checks the pipeline shape: one producer at position 0,
// filters or middles in between, a consumer at the tail. A single task
// acting as its own terminal is accepted.
func (j *Job) Validate() error {
	if len(j.Tasks) == 0 {
		return ErrEmptyJob
	}
	first := j.Tasks[0]
	if first.Cap() != CapProducer {
		return &ShapeError{Pos: 0, Got: first.Cap(), Detail: "first task must be a producer"}
	}
	if len(j.Tasks) == 1 {
		return nil
	}
	last := j.Tasks[len(j.Tasks)-1]
	if last.Cap() != CapConsumer {
		return &ShapeError{Pos: len(j.Tasks) - 1, Got: last.Cap(), Detail: "last task must be a consumer"}
	}
	for i, t := range j.Tasks[1 : len(j.Tasks)-1] {
		if c := t.Cap(); c != CapFilter && c != CapMiddle {
			return &ShapeError{Pos: i + 1, Got: c, Detail: "inner tasks must be filters or middles"}
		}
	}
	return nil
}

// Tag returns the stats scope tag for this job.
func (j *Job) Tag() string {
	return fmt.Sprintf("job/%d", j.ID)
}

func (j *Job) String() string {
	return fmt.Sprintf("job %d (%s) %s: %d tasks, %s", j.ID, j.UUID, j.Name, len(j.Tasks), j.State)
}
