package sources

import (
	"sync"

	"github.com/keltia/fetiche/internal/models"
)

// statsCollector accumulates StatFn deltas for assertions.
type statsCollector struct {
	mu sync.Mutex
	s  models.Stats
}

func (c *statsCollector) fn() models.StatFn {
	return func(delta models.Stats) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.s = c.s.Add(delta)
	}
}

func (c *statsCollector) snapshot() models.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// drainAll collects everything a producer sent before closing out.
func drainAll(out chan string) []string {
	var frames []string
	for f := range out {
		frames = append(frames, f)
	}
	return frames
}
