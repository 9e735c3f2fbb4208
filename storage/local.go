package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultPublicBase = "http://localhost:3001/files"

// LocalStore keeps objects on disk under dir. URLs point at publicBase,
// which the HTTP server maps back onto dir.
type LocalStore struct {
	dir        string
	publicBase string
}

func NewLocalStore(dir, publicBase string) *LocalStore {
	if publicBase == "" {
		publicBase = defaultPublicBase
	}
	return &LocalStore{dir: dir, publicBase: strings.TrimRight(publicBase, "/")}
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte, mimeType string) (Object, error) {
	abs, err := s.Path(key)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: create dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("storage: write %s: %w", key, err)
	}
	return Object{Key: key, PublicURL: s.url(key), MimeType: mimeType}, nil
}

// SignedURL returns the public URL; local objects do not expire.
func (s *LocalStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return s.url(key), nil
}

// Path resolves key to a file under the storage dir.
func (s *LocalStore) Path(key string) (string, error) {
	if s.dir == "" {
		return "", ErrNotConfigured
	}
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

// KeyFromURLPath reverses the escaping applied to keys in public URLs.
func KeyFromURLPath(escaped string) (string, error) {
	key, err := url.PathUnescape(escaped)
	if err != nil {
		return "", ErrInvalidKey
	}
	return key, validateKey(key)
}

func (s *LocalStore) url(key string) string {
	return s.publicBase + "/" + url.PathEscape(key)
}
