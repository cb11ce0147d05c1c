package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

const memoryBaseURL = "memory://objects"

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process. Presigned URLs are unsigned.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]memoryObject{}}
}

func (m *MemoryStore) Name() string { return string(ProviderMemory) }

func (m *MemoryStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return m.presigned(key, ttl), nil
}

func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.presigned(key, ttl), nil
}

func (m *MemoryStore) presigned(key string, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	q := url.Values{"expires": {time.Now().Add(ttl).UTC().Format(time.RFC3339)}}
	return m.URL(key) + "?" + q.Encode()
}

func (m *MemoryStore) URL(key string) string { return memoryBaseURL + "/" + key }

func (m *MemoryStore) KeyFromURL(raw string) (string, error) { return keyFromPath(raw, "") }

// Has reports whether key is stored.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}
