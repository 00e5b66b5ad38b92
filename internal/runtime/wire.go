package runtime

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/keltia/fetiche/internal/models"
)

// Options tunes one pipeline run.
type Options struct {
	// Depth bounds every inter-task channel.
	Depth int
	// Grace is how long a forced cancellation waits for tasks before
	// abandoning them.
	Grace time.Duration
}

func (o Options) depth() int {
	if o.Depth > 0 {
		return o.Depth
	}
	return 16
}

func (o Options) grace() time.Duration {
	if o.Grace > 0 {
		return o.Grace
	}
	return 2 * time.Second
}

// Run wires and executes a job's pipeline: a left-to-right fold
// creating one bounded channel per adjacent task pair, a one-shot
// kickoff frame for the producer, a final collector after the
// consumer. Returns when every task is done or the grace window after
// cancellation expires.
func Run(ctx context.Context, job *models.Job, opts Options, st models.StatFn, logger arbor.ILogger) error {
	if err := job.Validate(); err != nil {
		return err
	}

	logger.Info().
		Int64("job", int64(job.ID)).
		Str("name", job.Name).
		Int("tasks", len(job.Tasks)).
		Msg("Pipeline starting")

	g, gctx := errgroup.WithContext(ctx)

	// kickoff frame then EOF
	kick := make(chan string, 1)
	kick <- "start"
	close(kick)

	var in <-chan string = kick
	for _, t := range job.Tasks {
		task := t
		taskIn := in
		taskOut := make(chan string, opts.depth())
		g.Go(func() error {
			defer close(taskOut)
			err := task.Run(gctx, taskIn, taskOut, st)
			if err != nil && gctx.Err() == nil {
				logger.Warn().Err(err).Str("task", task.Name()).Msg("Task failed")
			}
			return err
		})
		in = taskOut
	}

	// final collector: drains whatever the terminal task emits (a
	// producer-only job ends here)
	last := in
	g.Go(func() error {
		for range last {
		}
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// forced cancellation: give tasks the grace window
		select {
		case err := <-done:
			return err
		case <-time.After(opts.grace()):
			logger.Warn().Int64("job", int64(job.ID)).Msg("Tasks did not stop within grace window")
			return ctx.Err()
		}
	}
}
