package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/feichai0017/legal-rag/internal/models"
)

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// MemoryStorage keeps objects in process. Used by tests and local runs.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject), now: time.Now}
}

func (m *MemoryStorage) Put(ctx context.Context, key string, reader io.Reader, _ int64, contentType string, metadata map[string]string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType, metadata: metadata, modified: m.now()}
	return nil
}

func (m *MemoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, &models.NotFoundError{Resource: "blob", Name: key}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStorage) DownloadLink(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ok, _ := m.Exists(ctx, key); !ok {
		return "", &models.NotFoundError{Resource: "blob", Name: key}
	}
	q := url.Values{}
	q.Set("expires", m.now().Add(ttl).UTC().Format(time.RFC3339))
	return "memory:///" + url.PathEscape(key) + "?" + q.Encode(), nil
}

func (m *MemoryStorage) CleanupBefore(ctx context.Context, threshold time.Time, keep func(string) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, obj := range m.objects {
		if obj.modified.Before(threshold) && (keep == nil || !keep(key)) {
			delete(m.objects, key)
			removed++
		}
	}
	return removed, nil
}

// Keys lists stored keys, for assertions.
func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
