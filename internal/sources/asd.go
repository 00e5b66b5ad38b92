package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/tokens"
)

// Asd fetches consolidated drone journeys from airspacedrone.com.
// Auth profile is Login: POST credentials, cache the bearer token
// with its site-supplied expiry.
type Asd struct {
	site   *models.Site
	store  *tokens.Store
	client *http.Client
	logger arbor.ILogger
}

func NewAsd(site *models.Site, store *tokens.Store, logger arbor.ILogger) *Asd {
	return &Asd{site: site, store: store, client: newHTTPClient(), logger: logger}
}

func (a *Asd) Name() string           { return a.site.Name }
func (a *Asd) Site() *models.Site     { return a.site }
func (a *Asd) Format() formats.Format { return formats.Format(a.site.Format) }

func (a *Asd) Authenticate(ctx context.Context) (string, error) {
	return cachedBearer(ctx, a.client, a.site, a.store, a.logger)
}

// asdQuery is the filtered-locations request body.
type asdQuery struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func asdWindow(f models.Filter) (time.Time, time.Time) {
	now := time.Now().UTC()
	switch f.Kind {
	case models.FilterInterval:
		return f.Begin, f.End
	case models.FilterDuration:
		if f.Duration < 0 {
			return now.Add(time.Duration(f.Duration) * time.Second), now
		}
		return now, now.Add(time.Duration(f.Duration) * time.Second)
	default:
		// default window goes one day back
		return now.Add(-24 * time.Hour), now
	}
}

// Fetch drains one batch of journey records into out. On an expired
// token the call re-authenticates exactly once and retries.
func (a *Asd) Fetch(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error {
	body, err := a.fetchOnce(ctx, token, f)

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusUnauthorized {
		a.logger.Debug().Str("source", a.Name()).Msg("Token rejected, refreshing once")
		if purgeErr := a.store.Purge(a.site.Name); purgeErr != nil {
			return purgeErr
		}
		token, err = a.Authenticate(ctx)
		if err != nil {
			return err
		}
		body, err = a.fetchOnce(ctx, token, f)
	}
	if err != nil {
		st(models.Stats{Err: 1})
		return err
	}

	st(models.Stats{Pkts: 1, Bytes: uint64(len(body))})
	select {
	case out <- body:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (a *Asd) fetchOnce(ctx context.Context, token string, f models.Filter) (string, error) {
	route, err := a.site.Route(models.RouteGet)
	if err != nil {
		return "", err
	}

	begin, end := asdWindow(f)
	q := asdQuery{
		StartTime: begin.Format("2006-01-02 15:04:05"),
		EndTime:   end.Format("2006-01-02 15:04:05"),
	}
	payload, err := json.Marshal(q)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.site.BaseURL+route, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("asd fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{Code: resp.StatusCode, Op: "fetch " + a.Name()}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("asd fetch: %w", err)
	}
	return string(raw), nil
}
