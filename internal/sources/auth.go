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

	"github.com/keltia/fetiche/internal/models"
	"github.com/keltia/fetiche/internal/tokens"
)

const httpTimeout = 30 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// loginResponse is what the Login/Token providers return from their
// auth route. Extra fields are carried into the stored token.
type loginResponse struct {
	Token     string   `json:"token"`
	ExpiredAt int64    `json:"expiredAt"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	Status    string   `json:"status"`
}

// httpLogin POSTs credentials to the site's auth route and returns the
// bearer token with its site-supplied expiry.
func httpLogin(ctx context.Context, client *http.Client, site *models.Site) (models.Token, error) {
	route, err := site.Route(models.RouteAuth)
	if err != nil {
		return models.Token{}, err
	}

	creds := map[string]string{
		"email":    site.Auth.Username,
		"password": site.Auth.Password,
	}
	body, err := json.Marshal(creds)
	if err != nil {
		return models.Token{}, fmt.Errorf("encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, site.BaseURL+route, bytes.NewReader(body))
	if err != nil {
		return models.Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return models.Token{}, &RetrievalError{User: site.Auth.Username, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Token{}, &HTTPError{Code: resp.StatusCode, Op: "authenticate " + site.Name}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Token{}, &RetrievalError{User: site.Auth.Username, Err: err}
	}

	var lr loginResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return models.Token{}, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	if lr.Token == "" {
		return models.Token{}, fmt.Errorf("%w: empty token", ErrDecoding)
	}

	return models.Token{
		Key:     site.Auth.Username,
		Secret:  lr.Token,
		Expires: lr.ExpiredAt,
		Email:   lr.Email,
		Roles:   lr.Roles,
		Status:  lr.Status,
	}, nil
}

// cachedBearer returns a valid bearer token for a Login/Token site,
// re-authenticating on cache miss or expiry and persisting the fresh
// token.
func cachedBearer(ctx context.Context, client *http.Client, site *models.Site, store *tokens.Store, logger arbor.ILogger) (string, error) {
	if store != nil {
		tok, err := store.Get(site.Name)
		if err == nil {
			return tok.Secret, nil
		}
		if !errors.Is(err, tokens.ErrTokenMissing) && !errors.Is(err, tokens.ErrTokenExpired) {
			return "", err
		}
		logger.Debug().Str("source", site.Name).Msg("Token cache miss, authenticating")
	}

	tok, err := httpLogin(ctx, client, site)
	if err != nil {
		return "", err
	}
	if store != nil {
		if err := store.Store(site.Name, tok); err != nil {
			logger.Warn().Err(err).Str("source", site.Name).Msg("Cannot persist token")
		}
	}
	return tok.Secret, nil
}
