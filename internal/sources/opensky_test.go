package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/models"
)

func openskyTestSite(url string) *models.Site {
	return &models.Site{
		Name:    "opensky",
		Format:  "opensky",
		BaseURL: url,
		Auth:    models.Auth{Kind: models.AuthAnon},
		Routes: map[string]string{
			models.RouteGet:    "/states/own",
			models.RouteStream: "/states/own",
		},
		Features: []models.Capability{models.CanFetch, models.CanStream},
	}
}

func TestOpenskyStreamDedup(t *testing.T) {
	// serve the same timestamp twice, then a fresh one
	var calls atomic.Int32
	times := []int64{1700000000, 1700000000, 1700000010}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := calls.Add(1) - 1
		ts := times[len(times)-1]
		if int(i) < len(times) {
			ts = times[i]
		}
		fmt.Fprintf(w, `{"time":%d,"states":[["3c6444","X",null,0,0,1.0,2.0,3.0,false,0,0,0,null,0,"",false,0]]}`, ts)
	}))
	defer srv.Close()

	src := NewOpensky(openskyTestSite(srv.URL), common.GetLogger())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan string, 16)
	var col statsCollector

	done := make(chan error, 1)
	go func() {
		done <- src.Stream(ctx, out, "", models.StreamWindow(0, 0, 20), col.fn())
	}()

	// two distinct timestamps must come through, the duplicate is dropped
	var frames []string
	timeout := time.After(5 * time.Second)
	for len(frames) < 2 {
		select {
		case f := <-out:
			frames = append(frames, f)
		case <-timeout:
			t.Fatal("timed out waiting for frames")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Contains(t, frames[0], "1700000000")
	assert.Contains(t, frames[1], "1700000010")

	s := col.snapshot()
	assert.GreaterOrEqual(t, s.Hits, uint32(1), "duplicate timestamp counts a hit")
	assert.Equal(t, uint32(2), s.Pkts)
	assert.Zero(t, s.Reconnect)
}

func TestOpenskyStreamDurationExpires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"time":%d,"states":[]}`, time.Now().UnixNano())
	}))
	defer srv.Close()

	src := NewOpensky(openskyTestSite(srv.URL), common.GetLogger())

	out := make(chan string, 16)
	var col statsCollector

	start := time.Now()
	err := src.Stream(context.Background(), out, "", models.StreamWindow(0, 1, 100), col.fn())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.NotZero(t, col.snapshot().Empty, "empty responses are tracked")
}

func TestOpenskyFetchEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"time":1700000000,"states":[]}`)
	}))
	defer srv.Close()

	src := NewOpensky(openskyTestSite(srv.URL), common.GetLogger())

	out := make(chan string, 1)
	var col statsCollector
	require.NoError(t, src.Fetch(context.Background(), out, "", models.Filter{}, col.fn()))

	s := col.snapshot()
	assert.Equal(t, uint32(1), s.Empty)
	assert.Zero(t, s.Pkts)
	assert.Empty(t, out)
}

func TestOpenskyFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewOpensky(openskyTestSite(srv.URL), common.GetLogger())

	out := make(chan string, 1)
	var col statsCollector
	err := src.Fetch(context.Background(), out, "", models.Filter{}, col.fn())

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.Code)
	assert.Equal(t, uint32(1), col.snapshot().Err)
}
