package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/storage"
)

// SaveTask writes frames to a file or stdout through a container sink.
type SaveTask struct {
	path      string
	container formats.Container
	format    formats.Format
	// stdout is swappable for tests.
	stdout io.Writer
}

func NewSaveTask(path string) *SaveTask {
	return &SaveTask{path: path, container: formats.ContainerCSV, stdout: os.Stdout}
}

// WithContainer selects the on-disk serialization.
func (t *SaveTask) WithContainer(c formats.Container) *SaveTask {
	t.container = c
	return t
}

// WithFormat records the incoming record format; with a Convert task
// upstream this is the post-conversion format.
func (t *SaveTask) WithFormat(f formats.Format) *SaveTask {
	t.format = f
	return t
}

// WithStdout redirects the "-" destination.
func (t *SaveTask) WithStdout(w io.Writer) *SaveTask {
	t.stdout = w
	return t
}

func (t *SaveTask) Name() string    { return "save:" + t.path }
func (t *SaveTask) Cap() models.Cap { return models.CapConsumer }

func (t *SaveTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	var w io.Writer
	if t.path == "-" {
		w = t.stdout
	} else {
		fd, err := os.Create(t.path)
		if err != nil {
			return fmt.Errorf("save %s: %w", t.path, err)
		}
		defer fd.Close()
		w = fd
	}

	sink, err := formats.NewSink(t.container, t.format, w)
	if err != nil {
		return err
	}

	for frame := range in {
		if err := sink.Write(frame); err != nil {
			st(models.Stats{Err: 1})
			return fmt.Errorf("save %s: %w", t.path, err)
		}
	}
	return sink.Close()
}

// StoreTask writes frames into a named storage area: rotated files
// for directory areas, keyed records for cache areas.
type StoreTask struct {
	area  *storage.Area
	jobID string
}

func NewStoreTask(area *storage.Area, jobID string) *StoreTask {
	return &StoreTask{area: area, jobID: jobID}
}

func (t *StoreTask) Name() string    { return "store:" + t.area.Name }
func (t *StoreTask) Cap() models.Cap { return models.CapConsumer }

func (t *StoreTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	switch {
	case t.area.Dir != nil:
		w, err := t.area.Dir.NewWriter(t.jobID)
		if err != nil {
			return err
		}
		defer w.Close()

		for frame := range in {
			if !strings.HasSuffix(frame, "\n") {
				frame += "\n"
			}
			if _, err := w.Write([]byte(frame)); err != nil {
				st(models.Stats{Err: 1})
				return err
			}
		}
		return nil

	case t.area.Cache != nil:
		var seq uint64
		for frame := range in {
			seq++
			if err := t.area.Cache.Put(t.jobID, seq, frame); err != nil {
				st(models.Stats{Err: 1})
				return err
			}
		}
		return nil

	default:
		return storage.ErrNoPathDefined
	}
}

// RecordTask appends frames as rows of a named table in a cache area.
type RecordTask struct {
	cache *storage.CacheArea
	table string
}

func NewRecordTask(cache *storage.CacheArea, table string) *RecordTask {
	return &RecordTask{cache: cache, table: table}
}

func (t *RecordTask) Name() string    { return "record:" + t.table }
func (t *RecordTask) Cap() models.Cap { return models.CapConsumer }

func (t *RecordTask) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	var seq uint64
	for frame := range in {
		seq++
		if err := t.cache.Put(t.table, seq, frame); err != nil {
			st(models.Stats{Err: 1})
			return err
		}
	}
	return nil
}
