package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryObject is a stored object plus its content and metadata.
type MemoryObject struct {
	Object
	Body         []byte
	ContentType  string
	CacheControl string
}

// MemorySink is an in-memory Sink for tests and local development.
// PutErr, when non-nil, is returned by every Put to simulate outages.
type MemorySink struct {
	mu      sync.Mutex
	objects map[string]MemoryObject

	PutErr error
	puts   []string
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{objects: make(map[string]MemoryObject)}
}

// Put implements Sink.Put by reading the local file into memory.
func (m *MemorySink) Put(ctx context.Context, key, localPath, contentType, cacheControl string) error {
	body, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.puts = append(m.puts, key)
	m.objects[key] = MemoryObject{
		Object: Object{
			Key:          key,
			Size:         int64(len(body)),
			LastModified: time.Now(),
		},
		Body:         body,
		ContentType:  contentType,
		CacheControl: cacheControl,
	}
	return nil
}

// Get implements Sink.Get.
func (m *MemorySink) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object stored under %q", key)
	}
	return append([]byte(nil), o.Body...), nil
}

// List implements Sink.List.
func (m *MemorySink) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for k, o := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, o.Object)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete implements Sink.Delete.
func (m *MemorySink) Delete(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

// PresignGet implements Sink.PresignGet with a synthetic URL.
func (m *MemorySink) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s?ttl=%d", key, int(ttl.Seconds())), nil
}

// Stored returns a stored object for assertions.
func (m *MemorySink) Stored(key string) (MemoryObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// SetModified overrides an object's LastModified, for retention tests.
func (m *MemorySink) SetModified(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.objects[key]; ok {
		o.LastModified = t
		m.objects[key] = o
	}
}

// PutOrder returns the keys of successful puts in submission order.
func (m *MemorySink) PutOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}

// Len returns the number of stored objects.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
