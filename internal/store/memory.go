// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory ObjectStore for tests and local development
// without a bucket.
type MemStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemStore) Put(_ context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return &TransientError{Op: "put", Key: key, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemStore) Head(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return 0, fmt.Errorf("head %s: %w", key, ErrNotFound)
	}
	return int64(len(data)), nil
}

func (m *MemStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
			delete(m.types, k)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("presign %s: %w", key, ErrNotFound)
	}
	return "https://mem.store.invalid/" + key, nil
}

// ContentType returns the stored content type for key, for assertions.
func (m *MemStore) ContentType(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[key]
}
