// Package state persists the engine's runtime footprint to a single
// file per home directory. All mutation flows through the actor, which
// owns the file; writes are collapsed by a dirty flag and flushed by a
// background writer on an interval and at shutdown.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
)

// SchemaVersion gates the state file; loading a newer version fails.
const SchemaVersion = 1

var ErrUnsupportedStateVersion = errors.New("unsupported state version")

// Content is what lands in the state file. Running jobs are not
// snapshotted: they restart from scratch on crash recovery.
type Content struct {
	Version int               `toml:"version"`
	Tm      int64             `toml:"tm"`
	LastID  uint64            `toml:"last_id"`
	Queues  map[string]string `toml:"queues"`
}

// Actor owns the engine state. Safe for concurrent use.
type Actor struct {
	file   string
	logger arbor.ILogger

	mu      sync.Mutex
	content Content
	dirty   bool

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewActor loads the state file (absent file means fresh state) and
// starts the background writer.
func NewActor(file string, interval time.Duration, logger arbor.ILogger) (*Actor, error) {
	a := &Actor{
		file:   file,
		logger: logger,
		content: Content{
			Version: SchemaVersion,
			Queues:  make(map[string]string),
		},
		done: make(chan struct{}),
	}

	raw, err := os.ReadFile(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Debug().Str("file", file).Msg("No state file, starting fresh")
	case err != nil:
		return nil, fmt.Errorf("read state %s: %w", file, err)
	default:
		var loaded Content
		if err := toml.Unmarshal(raw, &loaded); err != nil {
			return nil, fmt.Errorf("parse state %s: %w", file, err)
		}
		if loaded.Version > SchemaVersion {
			return nil, fmt.Errorf("%w: got %d, support up to %d",
				ErrUnsupportedStateVersion, loaded.Version, SchemaVersion)
		}
		if loaded.Queues == nil {
			loaded.Queues = make(map[string]string)
		}
		loaded.Version = SchemaVersion
		a.content = loaded
	}

	if interval > 0 {
		a.wg.Add(1)
		go a.writer(interval)
	}
	return a, nil
}

func (a *Actor) writer(interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Sync(); err != nil {
				// state stays dirty, retried next interval
				a.logger.Warn().Err(err).Msg("State sync failed")
			}
		case <-a.done:
			return
		}
	}
}

// LastID returns the last allocated job id.
func (a *Actor) LastID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.LastID
}

// SetLastID records the id allocator's high-water mark.
func (a *Actor) SetLastID(id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id > a.content.LastID {
		a.content.LastID = id
		a.dirty = true
	}
}

// Set stores a subsystem snapshot under its tag.
func (a *Actor) Set(tag, snapshot string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.content.Queues[tag] == snapshot {
		return
	}
	a.content.Queues[tag] = snapshot
	a.dirty = true
}

// Get returns a subsystem snapshot.
func (a *Actor) Get(tag string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.Queues[tag]
}

// Dirty reports whether unsynced mutations exist.
func (a *Actor) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

// Sync writes the state file if dirty. The write is atomic.
func (a *Actor) Sync() error {
	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return nil
	}
	content := a.content
	content.Queues = make(map[string]string, len(a.content.Queues))
	for k, v := range a.content.Queues {
		content.Queues[k] = v
	}
	content.Tm = time.Now().Unix()
	a.mu.Unlock()

	raw, err := toml.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(a.file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("stage state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), a.file); err != nil {
		return fmt.Errorf("install state: %w", err)
	}

	a.mu.Lock()
	a.content.Tm = content.Tm
	a.dirty = false
	a.mu.Unlock()

	a.logger.Debug().Str("file", a.file).Msg("State synced")
	return nil
}

// Close stops the background writer and performs a final sync. After a
// graceful Close the dirty flag is clear.
func (a *Actor) Close() error {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
	return a.Sync()
}
