package objstore

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
)

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// MemoryBackend is an in-process Backend used by tests and dry runs.
type MemoryBackend struct {
	mu         sync.RWMutex
	bucket     bool
	versioning bool
	objects    map[string]memObject
	puts       int

	// Unauthorized makes Ping fail with ErrUnauthorized.
	Unauthorized bool
}

// NewMemoryBackend returns an empty backend whose bucket does not exist yet.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]memObject)}
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(_ context.Context) error {
	if m.Unauthorized {
		return ErrUnauthorized
	}
	return nil
}

// BucketExists implements Backend.
func (m *MemoryBackend) BucketExists(_ context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bucket, nil
}

// CreateBucket implements Backend.
func (m *MemoryBackend) CreateBucket(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket = true
	return nil
}

// EnableVersioning implements Backend.
func (m *MemoryBackend) EnableVersioning(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versioning = true
	return nil
}

// Versioned reports whether EnableVersioning was called.
func (m *MemoryBackend) Versioned() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versioning
}

// Puts returns the number of successful Put calls.
func (m *MemoryBackend) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// List implements Backend.
func (m *MemoryBackend) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(o.data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Stat implements Backend.
func (m *MemoryBackend) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(o.data)), Metadata: maps.Clone(o.metadata)}, nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return append([]byte(nil), o.data...), maps.Clone(o.metadata), nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		metadata:    maps.Clone(metadata),
	}
	m.puts++
	return nil
}
