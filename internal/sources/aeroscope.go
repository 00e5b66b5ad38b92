package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/tokens"
)

// Aeroscope fetches drone sightings from a DJI Aeroscope antenna. The
// auth profile is Token: a stored long-lived token whose refresh path
// is the same POST-for-bearer exchange as Login.
type Aeroscope struct {
	site   *models.Site
	store  *tokens.Store
	client *http.Client
	logger arbor.ILogger
}

func NewAeroscope(site *models.Site, store *tokens.Store, logger arbor.ILogger) *Aeroscope {
	return &Aeroscope{site: site, store: store, client: newHTTPClient(), logger: logger}
}

func (a *Aeroscope) Name() string           { return a.site.Name }
func (a *Aeroscope) Site() *models.Site     { return a.site }
func (a *Aeroscope) Format() formats.Format { return formats.Format(a.site.Format) }

// Authenticate prefers the configured long-lived token, falling back
// to the cached-or-login path when it is absent.
func (a *Aeroscope) Authenticate(ctx context.Context) (string, error) {
	if a.site.Auth.Token != "" {
		return a.site.Auth.Token, nil
	}
	return cachedBearer(ctx, a.client, a.site, a.store, a.logger)
}

// Fetch drains the current drone table in one call. A stale cached
// token is refreshed exactly once.
func (a *Aeroscope) Fetch(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error {
	body, err := a.fetchOnce(ctx, token)

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusUnauthorized && a.site.Auth.Token == "" {
		a.logger.Debug().Str("source", a.Name()).Msg("Token rejected, refreshing once")
		if purgeErr := a.store.Purge(a.site.Name); purgeErr != nil && !errors.Is(purgeErr, tokens.ErrTokenMissing) {
			return purgeErr
		}
		token, err = a.Authenticate(ctx)
		if err != nil {
			return err
		}
		body, err = a.fetchOnce(ctx, token)
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

func (a *Aeroscope) fetchOnce(ctx context.Context, token string) (string, error) {
	route, err := a.site.Route(models.RouteGet)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.site.BaseURL+route, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("aeroscope fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{Code: resp.StatusCode, Op: "fetch " + a.Name()}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("aeroscope fetch: %w", err)
	}
	return string(raw), nil
}
