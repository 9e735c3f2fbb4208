// Package storagetest provides an in-memory storage.Store.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"creditflow/storage"
)

// Memory keeps objects in a map and returns deterministic URLs.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	PutErr  error
}

func NewMemory() *Memory {
	return &Memory{objects: map[string][]byte{}}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, mimeType string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return storage.Object{}, m.PutErr
	}
	m.objects[key] = append([]byte(nil), data...)
	return storage.Object{Key: key, PublicURL: "mem://" + key, MimeType: mimeType}, nil
}

func (m *Memory) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("mem://%s?ttl=%d", key, int(ttl.Seconds())), nil
}

// Object returns the stored bytes for key.
func (m *Memory) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// Keys lists stored keys.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}
