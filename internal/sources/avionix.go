package sources

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/formats"
	"github.com/keltia/fetiche/internal/models"
)

// startMarker tells the Avionix appliance to begin streaming.
const startMarker = 0x02

const avionixBufsiz = 65536

// Avionix streams CubeData from the Aero Network TCP feed. The wire
// protocol is bespoke: credentials as two lines, optional filter
// lines, then a single start byte; records come back as JSON lines.
type Avionix struct {
	site   *models.Site
	logger arbor.ILogger

	// dial is swappable for tests.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func NewAvionix(site *models.Site, logger arbor.ILogger) *Avionix {
	return &Avionix{
		site:   site,
		logger: logger,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

func (a *Avionix) Name() string           { return a.site.Name }
func (a *Avionix) Site() *models.Site     { return a.site }
func (a *Avionix) Format() formats.Format { return formats.Format(a.site.Format) }

// Authenticate is trivial: the UserKey pair goes over the wire at
// connect time.
func (a *Avionix) Authenticate(ctx context.Context) (string, error) {
	if a.site.Auth.APIKey == "" {
		return "", ErrNoAPIKey
	}
	return a.site.Auth.APIKey, nil
}

// connect dials, sends credentials and filter lines, then the start
// byte.
func (a *Avionix) connect(ctx context.Context, f models.Filter) (net.Conn, error) {
	conn, err := a.dial(ctx, a.site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("avionix connect %s: %w", a.site.BaseURL, err)
	}

	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "%s\n%s\n", a.site.Auth.APIKey, a.site.Auth.UserKey)
	if f.Kind == models.FilterKeyword {
		// e.g. min_altitude=0, max_altitude=5000
		fmt.Fprintf(w, "%s=%s\n", f.Name, f.Value)
	}
	if err := w.Flush(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("avionix handshake: %w", err)
	}

	if _, err := conn.Write([]byte{startMarker}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("avionix start: %w", err)
	}
	return conn, nil
}

// Stream reads chunks until the duration expires or the context is
// cancelled. Socket errors count one err and one reconnect, then the
// adapter re-dials with back-off and resumes from the next frame. The
// consumer splits chunks on line boundaries.
func (a *Avionix) Stream(ctx context.Context, out chan<- string, token string, f models.Filter, st models.StatFn) error {
	duration := 0
	switch f.Kind {
	case models.FilterStream:
		duration = f.StreamDuration
	case models.FilterDuration:
		duration = f.Duration
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(duration)*time.Second)
		defer cancel()
	}

	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = 10 * time.Second

	conn, err := a.connect(ctx, f)
	if err != nil {
		return err
	}
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	buf := make([]byte, avionixBufsiz)
	for {
		if ctx.Err() != nil {
			return nil
		}

		// wake up regularly so cancellation is honored mid-read
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			st(models.Stats{Pkts: 1, Bytes: uint64(n)})
			select {
			case out <- string(buf[:n]):
			case <-ctx.Done():
				return nil
			}
			retry.Reset()
		}
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}

			a.logger.Warn().Err(err).Str("source", a.Name()).Msg("Stream read failed, reconnecting")
			st(models.Stats{Err: 1})
			conn.Close()
			conn = nil

			conn, err = a.redial(ctx, f, retry)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			st(models.Stats{Reconnect: 1})
		}
	}
}

func (a *Avionix) redial(ctx context.Context, f models.Filter, retry *backoff.ExponentialBackOff) (net.Conn, error) {
	for {
		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return nil, fmt.Errorf("avionix reconnect: giving up")
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		conn, err := a.connect(ctx, f)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn().Err(err).Str("source", a.Name()).Msg("Reconnect attempt failed")
	}
}
