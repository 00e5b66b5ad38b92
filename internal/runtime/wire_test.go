package runtime

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/storage"
)

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

// mockFetcher emits fixed frames.
type mockFetcher struct {
	site   *models.Site
	frames []string
}

func newMockFetcher(frames ...string) *mockFetcher {
	return &mockFetcher{
		site: &models.Site{
			Name:     "mocksrc",
			Format:   "jsonx",
			Features: []models.Capability{models.CanFetch},
		},
		frames: frames,
	}
}

func (m *mockFetcher) Name() string                                  { return m.site.Name }
func (m *mockFetcher) Site() *models.Site                            { return m.site }
func (m *mockFetcher) Format() formats.Format                        { return formats.Format(m.site.Format) }
func (m *mockFetcher) Authenticate(ctx context.Context) (string, error) { return "", nil }

func (m *mockFetcher) Fetch(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error {
	for _, frame := range m.frames {
		st(models.Stats{Pkts: 1, Bytes: uint64(len(frame))})
		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// mockStreamer emits one frame per interval until the window closes.
type mockStreamer struct {
	site     *models.Site
	interval time.Duration
}

func (m *mockStreamer) Name() string                                  { return m.site.Name }
func (m *mockStreamer) Site() *models.Site                            { return m.site }
func (m *mockStreamer) Format() formats.Format                        { return formats.Format(m.site.Format) }
func (m *mockStreamer) Authenticate(ctx context.Context) (string, error) { return "", nil }

func (m *mockStreamer) Stream(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error {
	if f.Kind == models.FilterStream && f.StreamDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(f.StreamDuration)*time.Second)
		defer cancel()
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st(models.Stats{Pkts: 1})
			select {
			case out <- "tick\n":
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func TestPipelineFetchToStdout(t *testing.T) {
	var buf bytes.Buffer
	var col statsCollector

	job := models.NewJob("t1")
	job.Kind = models.KindFetch
	job.Add(NewFetchTask(newMockFetcher("A\nB\n")).WithFilter(models.Since(-60)))
	job.Add(NewSaveTask("-").WithStdout(&buf))

	err := Run(context.Background(), job, Options{}, col.fn(), common.GetLogger())
	require.NoError(t, err)

	assert.Equal(t, "A\nB\n", buf.String())
	s := col.snapshot()
	assert.Equal(t, uint32(1), s.Pkts)
	assert.Equal(t, uint64(4), s.Bytes)
}

func TestPipelineConvertToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	var col statsCollector

	conv, err := NewConvertTask(formats.JsonX, formats.Csv)
	require.NoError(t, err)

	job := models.NewJob("t2")
	job.Add(NewFetchTask(newMockFetcher(`{"x":1}`)))
	job.Add(conv)
	job.Add(NewSaveTask(path).WithFormat(conv.Into()))

	require.NoError(t, Run(context.Background(), job, Options{}, col.fn(), common.GetLogger()))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(content))
	assert.Equal(t, uint32(1), col.snapshot().Pkts)
}

func TestPipelineStreamWithDuration(t *testing.T) {
	var buf bytes.Buffer
	var col statsCollector

	src := &mockStreamer{
		site:     &models.Site{Name: "ticker", Format: "jsonx", Features: []models.Capability{models.CanStream}},
		interval: 100 * time.Millisecond,
	}

	job := models.NewJob("t3")
	job.Kind = models.KindStream
	job.Add(NewStreamTask(src).WithFilter(models.StreamWindow(0, 1, 0)))
	job.Add(NewSaveTask("-").WithStdout(&buf))

	require.NoError(t, Run(context.Background(), job, Options{}, col.fn(), common.GetLogger()))

	pkts := col.snapshot().Pkts
	assert.GreaterOrEqual(t, pkts, uint32(8))
	assert.LessOrEqual(t, pkts, uint32(11))
}

// failingConsumer closes shop immediately: the producer must observe
// the dead pipeline within one send instead of deadlocking.
type failingConsumer struct{}

func (f *failingConsumer) Name() string    { return "failing" }
func (f *failingConsumer) Cap() models.Cap { return models.CapConsumer }
func (f *failingConsumer) Run(ctx context.Context, in <-chan string, out chan<- string, st models.StatFn) error {
	return errors.New("consumer gave up")
}

func TestPipelineConsumerEarlyExitNoDeadlock(t *testing.T) {
	var col statsCollector

	// enough frames to overrun the channel depth
	frames := make([]string, 100)
	for i := range frames {
		frames[i] = "frame\n"
	}

	job := models.NewJob("t4")
	job.Add(NewFetchTask(newMockFetcher(frames...)))
	job.Add(&failingConsumer{})

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), job, Options{Depth: 2}, col.fn(), common.GetLogger())
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline deadlocked on early consumer exit")
	}
}

func TestPipelineMiddles(t *testing.T) {
	var buf bytes.Buffer
	teePath := filepath.Join(t.TempDir(), "tee.out")
	var col statsCollector

	job := models.NewJob("t5")
	job.Add(NewFetchTask(newMockFetcher("one\n", "two\n")))
	job.Add(NewTeeTask(teePath))
	job.Add(NewCopyTask())
	job.Add(NewMessageTask("replaced\n"))
	job.Add(NewSaveTask("-").WithStdout(&buf))

	require.NoError(t, Run(context.Background(), job, Options{}, col.fn(), common.GetLogger()))

	teed, err := os.ReadFile(teePath)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(teed))
	assert.Equal(t, "replaced\nreplaced\n", buf.String())
}

func TestPipelineRejectsBadShape(t *testing.T) {
	job := models.NewJob("bad")
	job.Add(NewCopyTask())

	err := Run(context.Background(), job, Options{}, func(models.Stats) {}, common.GetLogger())
	var shape *models.ShapeError
	assert.ErrorAs(t, err, &shape)
}

func TestPipelineStoreConsumer(t *testing.T) {
	base := t.TempDir()
	area, err := storage.NewDirectoryArea(filepath.Join(base, "area"), "1h", common.GetLogger())
	require.NoError(t, err)

	var col statsCollector
	job := models.NewJob("t6")
	job.Add(NewFetchTask(newMockFetcher("r1\n", "r2\n")))
	job.Add(NewStoreTask(&storage.Area{Name: "a", Dir: area}, job.UUID))

	require.NoError(t, Run(context.Background(), job, Options{}, col.fn(), common.GetLogger()))

	link, err := os.Readlink(filepath.Join(base, "area", "current"))
	require.NoError(t, err)
	assert.Equal(t, job.UUID, link)

	entries, err := os.ReadDir(filepath.Join(base, "area", job.UUID))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	content, err := os.ReadFile(filepath.Join(base, "area", job.UUID, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "r1\nr2\n", string(content))
}
