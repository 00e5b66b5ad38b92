// Package runtime wires a job's tasks into a running pipeline: one
// goroutine per task, bounded channels in between, records flowing
// from the producer through the middles into the terminal consumer.
package runtime

import (
	"context"
	"fmt"
	"os"

	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/sources"
)

// send forwards one frame, honoring cancellation so a task blocked on
// a full channel unblocks within one send when the pipeline dies.
func send(ctx context.Context, out chan<- string, frame string) error {
	select {
	case out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AuthError marks an authentication failure surfaced by a producer.
type AuthError struct {
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchTask runs one-shot acquisition from a Fetcher.
type FetchTask struct {
	src    sources.Fetcher
	filter models.Filter
}

func NewFetchTask(src sources.Fetcher) *FetchTask {
	return &FetchTask{src: src}
}

// WithFilter narrows what the source emits.
func (t *FetchTask) WithFilter(f models.Filter) *FetchTask {
	t.filter = f
	return t
}

func (t *FetchTask) Name() string    { return "fetch:" + t.src.Name() }
func (t *FetchTask) Cap() models.Cap { return models.CapProducer }

func (t *FetchTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	<-in // kickoff

	token, err := t.src.Authenticate(ctx)
	if err != nil {
		return &AuthError{Source: t.src.Name(), Err: err}
	}
	return t.src.Fetch(ctx, out, token, t.filter, st)
}

// StreamTask runs long-running acquisition from a Streamer until the
// filter window elapses or the job is cancelled.
type StreamTask struct {
	src    sources.Streamer
	filter models.Filter
}

func NewStreamTask(src sources.Streamer) *StreamTask {
	return &StreamTask{src: src}
}

func (t *StreamTask) WithFilter(f models.Filter) *StreamTask {
	t.filter = f
	return t
}

func (t *StreamTask) Name() string    { return "stream:" + t.src.Name() }
func (t *StreamTask) Cap() models.Cap { return models.CapProducer }

func (t *StreamTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	<-in

	token, err := t.src.Authenticate(ctx)
	if err != nil {
		return &AuthError{Source: t.src.Name(), Err: err}
	}
	return t.src.Stream(ctx, out, token, t.filter, st)
}

// ReadTask produces the content of a local file as a single frame.
type ReadTask struct {
	path string
}

func NewReadTask(path string) *ReadTask {
	return &ReadTask{path: path}
}

func (t *ReadTask) Name() string    { return "read:" + t.path }
func (t *ReadTask) Cap() models.Cap { return models.CapProducer }

func (t *ReadTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	<-in

	raw, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", t.path, err)
	}
	st(models.Stats{Pkts: 1, Bytes: uint64(len(raw))})
	return send(ctx, out, string(raw))
}
