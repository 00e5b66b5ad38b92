package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/sources"
)

// mockFetcher is a Fetch source emitting fixed frames.
type mockFetcher struct {
	site   *models.Site
	frames []string
}

func newMockFetcher(name string, frames ...string) *mockFetcher {
	return &mockFetcher{
		site: &models.Site{
			Name:     name,
			Format:   "jsonx",
			Features: []models.Capability{models.CanFetch},
		},
		frames: frames,
	}
}

func (m *mockFetcher) Name() string                                     { return m.site.Name }
func (m *mockFetcher) Site() *models.Site                               { return m.site }
func (m *mockFetcher) Format() formats.Format                           { return formats.Format(m.site.Format) }
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

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	cfg := common.DefaultConfig()
	cfg.Engine.BaseDir = t.TempDir()
	cfg.Engine.TickInterval = "20ms"
	cfg.Engine.SyncInterval = "1h"
	cfg.Engine.StatsInterval = "1h"

	e, err := New(cfg, common.GetLogger())
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)
	return e
}

func TestEngineFetchToStdout(t *testing.T) {
	e := newTestEngine(t)
	e.sources.Register(newMockFetcher("mocksrc", "A\nB\n"))

	var buf bytes.Buffer
	e.SetStdout(&buf)

	job, err := e.ParseJob(`
name = "t1"
type = "fetch"
producer = { Fetch = ["mocksrc", { Duration = -60 }] }
middle = []
output = { Save = "-" }
`)
	require.NoError(t, err)

	s, err := e.SubmitJobAndWait(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "A\nB\n", buf.String())
	assert.Equal(t, uint32(1), s.Pkts)
	assert.Equal(t, uint64(4), s.Bytes)

	snap := e.queue.List()
	require.Len(t, snap.Finished, 1)
	assert.Equal(t, models.JobStateFinished, snap.Finished[0].State)
}

func TestEngineConvertAndSaveFile(t *testing.T) {
	e := newTestEngine(t)
	e.sources.Register(newMockFetcher("jsonsrc", `{"x":1}`))

	out := filepath.Join(t.TempDir(), "out.csv")
	job, err := e.ParseJob(`
name = "t2"
type = "fetch"
producer = { Fetch = ["jsonsrc"] }
middle = [ { Convert = { from = "jsonx", into = "csv" } } ]
output = { Save = "` + out + `" }
`)
	require.NoError(t, err)

	s, err := e.SubmitJobAndWait(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s.Pkts)

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(content))
}

func TestEngineParseErrors(t *testing.T) {
	e := newTestEngine(t)

	cases := []struct {
		name string
		text string
		want error
	}{
		{
			"unknown producer tag",
			`name="x"` + "\n" + `type="fetch"` + "\n" + `producer={ Grab = ["opensky"] }` + "\n" + `output={ Save = "-" }`,
			ErrUnknownTask,
		},
		{
			"unknown middle tag",
			`name="x"` + "\n" + `type="fetch"` + "\n" + `producer={ Fetch = ["opensky"] }` + "\n" + `middle=["Mangle"]` + "\n" + `output={ Save = "-" }`,
			ErrUnknownTask,
		},
		{
			"unknown consumer tag",
			`name="x"` + "\n" + `type="fetch"` + "\n" + `producer={ Fetch = ["opensky"] }` + "\n" + `output={ Drop = "-" }`,
			ErrUnknownTask,
		},
		{
			"unknown source",
			`name="x"` + "\n" + `type="fetch"` + "\n" + `producer={ Fetch = ["nosuch"] }` + "\n" + `output={ Save = "-" }`,
			sources.ErrUnknownSource,
		},
		{
			"capability mismatch",
			`name="x"` + "\n" + `type="stream"` + "\n" + `producer={ Stream = ["asd"] }` + "\n" + `output={ Save = "-" }`,
			sources.ErrCapabilityMismatch,
		},
		{
			"unknown top-level key",
			`name="x"` + "\n" + `type="fetch"` + "\n" + `frobnicate=1` + "\n" + `producer={ Fetch = ["opensky"] }`,
			ErrBadJobText,
		},
		{
			"bad job type",
			`name="x"` + "\n" + `type="poll"` + "\n" + `producer={ Fetch = ["opensky"] }`,
			ErrUnknownTask,
		},
	}

	for _, c := range cases {
		_, err := e.ParseJob(c.text)
		assert.ErrorIs(t, err, c.want, c.name)
	}
}

func TestEngineParseShapeViolation(t *testing.T) {
	e := newTestEngine(t)

	// middles but no terminal consumer
	_, err := e.ParseJob(`
name = "x"
type = "fetch"
producer = { Fetch = ["opensky"] }
middle = [ "Copy" ]
`)
	var shape *models.ShapeError
	assert.ErrorAs(t, err, &shape)
}

func TestEngineSingleProducerJobValid(t *testing.T) {
	e := newTestEngine(t)
	e.sources.Register(newMockFetcher("solo", "data\n"))

	job, err := e.ParseJob(`
name = "solo"
type = "fetch"
producer = { Fetch = ["solo"] }
`)
	require.NoError(t, err)

	_, err = e.SubmitJobAndWait(context.Background(), job)
	assert.NoError(t, err)
}

func TestEngineCreateJobMonotonicIDs(t *testing.T) {
	e := newTestEngine(t)

	a := e.CreateJob("a")
	b := e.CreateJob("b")
	assert.Less(t, a.ID, b.ID)
	assert.Equal(t, models.JobStateReady, a.State)
	assert.Empty(t, a.Tasks)
}

func TestEngineCancellation(t *testing.T) {
	e := newTestEngine(t)

	// a stream source that never ends on its own
	e.sources.Register(&foreverStreamer{site: &models.Site{
		Name: "forever", Format: "opensky",
		Features: []models.Capability{models.CanStream},
		Routes:   map[string]string{models.RouteStream: "/x"},
	}})

	e.SetStdout(&bytes.Buffer{})
	job, err := e.ParseJob(`
name = "endless"
type = "stream"
producer = { Stream = ["forever"] }
output = { Save = "-" }
`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = e.SubmitJobAndWait(ctx, job)
	assert.Error(t, err)

	snap := e.queue.List()
	require.Len(t, snap.Finished, 1)
	assert.Equal(t, models.JobStateCancelled, snap.Finished[0].State)
}

func TestEngineListTables(t *testing.T) {
	e := newTestEngine(t)

	assert.Contains(t, e.ListSources(), "opensky")
	assert.Contains(t, e.ListFormats(), "cat21")
	assert.Contains(t, e.ListContainers(), "parquet")
	assert.Contains(t, e.ListStorage(), "default")
	assert.Contains(t, e.ListCommands(), "Convert")
	assert.NotEmpty(t, e.ListTokens())
	assert.NotEmpty(t, e.ListJobs())
}

func TestEngineShutdownIdempotent(t *testing.T) {
	e := newTestEngine(t)
	e.Shutdown()
	e.Shutdown()

	_, err := e.SubmitJobAndWait(context.Background(), e.CreateJob("late"))
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestEngineVersion(t *testing.T) {
	e := newTestEngine(t)
	assert.Contains(t, e.Version(), "fetiche/")
	assert.Contains(t, e.Version(), "formats/")
}

// foreverStreamer emits frames until cancelled.
type foreverStreamer struct {
	site *models.Site
}

func (f *foreverStreamer) Name() string                                     { return f.site.Name }
func (f *foreverStreamer) Site() *models.Site                               { return f.site }
func (f *foreverStreamer) Format() formats.Format                           { return formats.Format(f.site.Format) }
func (f *foreverStreamer) Authenticate(ctx context.Context) (string, error) { return "", nil }

func (f *foreverStreamer) Stream(ctx context.Context, out chan<- string, token string, flt models.Filter, st models.StatFn) error {
	ticker := time.NewTicker(50 * time.Millisecond)
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
