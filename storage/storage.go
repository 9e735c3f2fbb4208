// Package storage writes generated letters and uploaded documents to an
// object store and hands out download URLs for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditflow/config"
)

var (
	ErrNotConfigured = errors.New("storage: not configured")
	ErrInvalidKey    = errors.New("storage: invalid key")
)

// Object describes a stored blob.
type Object struct {
	Key       string
	PublicURL string
	MimeType  string
}

// Store is the object store used by letters, documents and the portal.
type Store interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (Object, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// New builds the store selected by cfg.Mode.
func New(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", "local":
		return NewLocalStore(cfg.LocalDir, cfg.LocalPublicBase), nil
	case "s3":
		return NewS3Store(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown mode %q", cfg.Mode)
	}
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "" {
			return ErrInvalidKey
		}
	}
	return nil
}
