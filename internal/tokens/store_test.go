package tokens

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "tokens"), common.GetLogger())
	require.NoError(t, err)
	return s
}

func validToken() models.Token {
	return models.Token{
		Key:     "who@example.net",
		Secret:  "opaque-secret",
		Expires: time.Now().Add(time.Hour).Unix(),
		Status:  "active",
	}
}

func TestTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)

	want := validToken()
	require.NoError(t, s.Store("asd", want))

	got, err := s.Get("asd")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTokenMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestTokenExpiredUnlinked(t *testing.T) {
	s := newTestStore(t)

	tok := validToken()
	tok.Expires = time.Now().Add(-time.Hour).Unix()
	require.NoError(t, s.Store("old", tok))

	_, err := s.Get("old")
	assert.ErrorIs(t, err, ErrTokenExpired)

	// the file is gone, second read reports missing
	_, err = s.Get("old")
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestTokenScanDropsExpired(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	first, err := NewStore(dir, common.GetLogger())
	require.NoError(t, err)

	live := validToken()
	dead := validToken()
	dead.Expires = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, first.Store("live", live))
	require.NoError(t, first.Store("dead", dead))

	again, err := NewStore(dir, common.GetLogger())
	require.NoError(t, err)

	list, err := again.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "live", list[0].Name)
}

func TestTokenPurge(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Store("asd", validToken()))
	require.NoError(t, s.Purge("asd"))
	require.NoError(t, s.Purge("asd")) // absent file not an error

	_, err := s.Get("asd")
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestTokenUnknownFieldsIgnored(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens")
	require.NoError(t, os.MkdirAll(dir, 0700))

	content := `
key = "who@example.net"
secret = "s3kr3t"
expires = ` + "9999999999" + `
gjrt = "undocumented"
homepage = "https://example.net"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "asd"), []byte(content), 0600))

	s, err := NewStore(dir, common.GetLogger())
	require.NoError(t, err)

	got, err := s.Get("asd")
	require.NoError(t, err)
	assert.Equal(t, "who@example.net", got.Key)
	assert.Equal(t, "s3kr3t", got.Secret)
}

func TestTokenStoreOverwrite(t *testing.T) {
	s := newTestStore(t)

	old := validToken()
	require.NoError(t, s.Store("asd", old))

	updated := old
	updated.Secret = "rotated"
	require.NoError(t, s.Store("asd", updated))

	got, err := s.Get("asd")
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Secret)
}
