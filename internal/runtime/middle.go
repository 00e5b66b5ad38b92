package runtime

import (
	"context"
	"fmt"
	"os"

	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
)

// TeeTask forwards frames unchanged while writing a copy to disk.
type TeeTask struct {
	path string
}

func NewTeeTask(path string) *TeeTask {
	return &TeeTask{path: path}
}

func (t *TeeTask) Name() string    { return "tee:" + t.path }
func (t *TeeTask) Cap() models.Cap { return models.CapMiddle }

func (t *TeeTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	fd, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("tee %s: %w", t.path, err)
	}
	defer fd.Close()

	for frame := range in {
		if _, err := fd.WriteString(frame); err != nil {
			return fmt.Errorf("tee %s: %w", t.path, err)
		}
		if err := send(ctx, out, frame); err != nil {
			return nil // downstream gone, drain and exit
		}
	}
	return nil
}

// ConvertTask reformats each frame between two format tags.
type ConvertTask struct {
	from formats.Format
	into formats.Format
	fn   formats.ConvertFn
}

func NewConvertTask(from, into formats.Format) (*ConvertTask, error) {
	fn, err := formats.Converter(from, into)
	if err != nil {
		return nil, err
	}
	return &ConvertTask{from: from, into: into, fn: fn}, nil
}

// Into is the post-conversion format; a downstream save step must use
// it, not the producer's format.
func (t *ConvertTask) Into() formats.Format { return t.into }

func (t *ConvertTask) Name() string    { return fmt.Sprintf("convert:%s-%s", t.from, t.into) }
func (t *ConvertTask) Cap() models.Cap { return models.CapFilter }

func (t *ConvertTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	for frame := range in {
		converted, err := t.fn(frame)
		if err != nil {
			st(models.Stats{Err: 1})
			return fmt.Errorf("convert %s into %s: %w", t.from, t.into, err)
		}
		if converted == "" {
			continue
		}
		if err := send(ctx, out, converted); err != nil {
			return nil
		}
	}
	return nil
}

// CopyTask passes frames through untouched.
type CopyTask struct{}

func NewCopyTask() *CopyTask { return &CopyTask{} }

func (t *CopyTask) Name() string    { return "copy" }
func (t *CopyTask) Cap() models.Cap { return models.CapFilter }

func (t *CopyTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	for frame := range in {
		if err := send(ctx, out, frame); err != nil {
			return nil
		}
	}
	return nil
}

// NothingTask is the do-nothing pass-through, kept distinct from Copy
// for job-script compatibility.
type NothingTask struct{}

func NewNothingTask() *NothingTask { return &NothingTask{} }

func (t *NothingTask) Name() string    { return "nothing" }
func (t *NothingTask) Cap() models.Cap { return models.CapFilter }

func (t *NothingTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	for frame := range in {
		if err := send(ctx, out, frame); err != nil {
			return nil
		}
	}
	return nil
}

// MessageTask replaces every frame with a literal.
type MessageTask struct {
	text string
}

func NewMessageTask(text string) *MessageTask {
	return &MessageTask{text: text}
}

func (t *MessageTask) Name() string    { return "message" }
func (t *MessageTask) Cap() models.Cap { return models.CapFilter }

func (t *MessageTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	for range in {
		if err := send(ctx, out, t.text); err != nil {
			return nil
		}
	}
	return nil
}
