package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
)

// The Opensky API can go back at most one hour.
const openskyMaxInterval = 3600

// Dedup cache sizing: responses are keyed by their server timestamp,
// two responses sharing a timestamp are the same state list.
const (
	cacheSize = 20
	cacheIdle = 20 * time.Second
	cacheMax  = 60 * time.Second
)

// Opensky talks to the Opensky network API: one-shot state-vector
// fetches and polling-style streaming with timestamp dedup.
type Opensky struct {
	site   *models.Site
	client *http.Client
	logger arbor.ILogger
}

func NewOpensky(site *models.Site, logger arbor.ILogger) *Opensky {
	return &Opensky{site: site, client: newHTTPClient(), logger: logger}
}

func (o *Opensky) Name() string           { return o.site.Name }
func (o *Opensky) Site() *models.Site     { return o.site }
func (o *Opensky) Format() formats.Format { return formats.Format(o.site.Format) }

// Authenticate is a passthrough: Opensky takes basic auth per request
// (or nothing for anonymous access).
func (o *Opensky) Authenticate(ctx context.Context) (string, error) {
	return "", nil
}

func (o *Opensky) get(ctx context.Context, route string, params url.Values) (string, error) {
	u := o.site.BaseURL + route
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	if o.site.Auth.Kind == models.AuthLogin {
		req.SetBasicAuth(o.site.Auth.Username, o.site.Auth.Password)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("opensky get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{Code: resp.StatusCode, Op: "get " + o.Name()}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("opensky get: %w", err)
	}
	return string(raw), nil
}

// Fetch performs one state-vector call for the filter window.
func (o *Opensky) Fetch(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error {
	route, err := o.site.Route(models.RouteGet)
	if err != nil {
		return err
	}

	params := url.Values{}
	if f.Kind == models.FilterDuration {
		secs := f.Duration
		if secs < 0 {
			secs = -secs
		}
		if secs > openskyMaxInterval {
			secs = openskyMaxInterval
		}
		params.Set("time", strconv.FormatInt(time.Now().Add(-time.Duration(secs)*time.Second).Unix(), 10))
	}

	body, err := o.get(ctx, route, params)
	if err != nil {
		st(models.Stats{Err: 1})
		return err
	}

	if emptyStateList(body) {
		st(models.Stats{Empty: 1})
		return nil
	}

	st(models.Stats{Pkts: 1, Bytes: uint64(len(body))})
	select {
	case out <- body:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func emptyStateList(body string) bool {
	var sl struct {
		States []json.RawMessage `json:"states"`
	}
	if err := json.Unmarshal([]byte(body), &sl); err != nil {
		return false
	}
	return len(sl.States) == 0
}

// Stream polls the same endpoint at the configured delay. A response
// whose server timestamp was already seen is a cache hit and is not
// forwarded. Runs until the stream duration elapses or the context is
// cancelled (duration 0 means until cancelled).
func (o *Opensky) Stream(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error {
	route, err := o.site.Route(models.RouteStream)
	if err != nil {
		return err
	}

	delay := time.Second
	duration := 0
	if f.Kind == models.FilterStream {
		if f.Delay > 0 {
			delay = time.Duration(f.Delay) * time.Millisecond
		}
		duration = f.StreamDuration
	} else if f.Kind == models.FilterDuration && f.Duration > 0 {
		duration = f.Duration
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(duration)*time.Second)
		defer cancel()
	}

	// insert time per timestamp so idle and absolute expiries both apply
	seen := expirable.NewLRU[int64, time.Time](cacheSize, nil, cacheIdle)
	limiter := rate.NewLimiter(rate.Every(delay), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil // window elapsed or cancelled
		}

		body, err := o.get(ctx, route, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			st(models.Stats{Err: 1, Reconnect: 1})
			continue
		}

		var sl struct {
			Time   int64             `json:"time"`
			States []json.RawMessage `json:"states"`
		}
		if err := json.Unmarshal([]byte(body), &sl); err != nil {
			st(models.Stats{Err: 1})
			continue
		}

		if len(sl.States) == 0 {
			st(models.Stats{Empty: 1})
			continue
		}

		if when, ok := seen.Get(sl.Time); ok && time.Since(when) < cacheMax {
			// re-adding renews the idle TTL and keeps the insert time
			seen.Add(sl.Time, when)
			st(models.Stats{Hits: 1})
			continue
		}
		seen.Add(sl.Time, time.Now())
		st(models.Stats{Miss: 1})

		st(models.Stats{Pkts: 1, Bytes: uint64(len(body))})
		select {
		case out <- body:
		case <-ctx.Done():
			return nil
		}
	}
}
