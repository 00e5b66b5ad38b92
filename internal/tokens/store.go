// Package tokens is the disk-backed cache of expiring credentials.
// One file per source under <home>/tokens/; expired entries are
// unlinked on scan and on read, and writes are atomic so a concurrent
// reader sees either the previous token or the new one, never a torn
// file.
package tokens

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/keltia/fetiche/internal/models"
)

var (
	ErrTokenMissing = errors.New("no such token")
	ErrTokenExpired = errors.New("token expired")
)

// Summary is the obfuscated view returned by List.
type Summary struct {
	Name    string
	Key     string
	Expires int64
}

// Store manages the token directory. Methods are safe for concurrent
// use; the directory is created on first store.
type Store struct {
	path   string
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewStore scans the directory, loading every file and unlinking the
// expired ones. A missing directory is fine, it appears on first
// store.
func NewStore(path string, logger arbor.ILogger) (*Store, error) {
	s := &Store{path: path, logger: logger}

	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan token store %s: %w", path, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		tok, err := s.read(name)
		if err != nil {
			logger.Warn().Err(err).Str("token", name).Msg("Dropping unreadable token")
			_ = os.Remove(filepath.Join(path, name))
			continue
		}
		if tok.IsExpired() {
			logger.Debug().Str("token", name).Msg("Dropping expired token")
			_ = os.Remove(filepath.Join(path, name))
		}
	}
	return s, nil
}

func (s *Store) file(key string) string {
	return filepath.Join(s.path, key)
}

func (s *Store) read(key string) (models.Token, error) {
	raw, err := os.ReadFile(s.file(key))
	if err != nil {
		return models.Token{}, err
	}
	var tok models.Token
	// unknown fields in token files are ignored
	if err := toml.Unmarshal(raw, &tok); err != nil {
		return models.Token{}, fmt.Errorf("decode token %s: %w", key, err)
	}
	return tok, nil
}

// Get returns the token for a source. An expired token is unlinked
// and reported as ErrTokenExpired; an absent one as ErrTokenMissing.
func (s *Store) Get(key string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.read(key)
	if errors.Is(err, os.ErrNotExist) {
		return models.Token{}, fmt.Errorf("%w: %s", ErrTokenMissing, key)
	}
	if err != nil {
		return models.Token{}, err
	}
	if tok.IsExpired() {
		_ = os.Remove(s.file(key))
		return models.Token{}, fmt.Errorf("%w: %s", ErrTokenExpired, key)
	}
	return tok, nil
}

// Store persists a token atomically, creating the directory if needed.
func (s *Store) Store(key string, tok models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.path, 0700); err != nil {
		return fmt.Errorf("create token store %s: %w", s.path, err)
	}

	raw, err := toml.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(s.path, "."+key+"-*")
	if err != nil {
		return fmt.Errorf("stage token %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write token %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), s.file(key)); err != nil {
		return fmt.Errorf("install token %s: %w", key, err)
	}

	s.logger.Debug().Str("token", key).Msg("Token stored")
	return nil
}

// Purge unlinks the token file. Absent files are not an error.
func (s *Store) Purge(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.file(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("purge token %s: %w", key, err)
	}
	return nil
}

// List returns obfuscated summaries of every stored token.
func (s *Store) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan token store %s: %w", s.path, err)
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		tok, err := s.read(e.Name())
		if err != nil {
			continue
		}
		out = append(out, Summary{Name: e.Name(), Key: tok.Key, Expires: tok.Expires})
	}
	return out, nil
}
