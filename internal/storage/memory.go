package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/and161185/picpaygo/internal/errs"
)

// Memory is a non-durable ObjectStore for local development and tests.
// Objects vanish with the process.
type Memory struct {
	mu      sync.RWMutex
	objects map[Locator]memObject
}

type memObject struct {
	data        []byte
	contentType string
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory { return &Memory{objects: map[Locator]memObject{}} }

// Put stores a copy of data.
func (m *Memory) Put(_ context.Context, bucket, key string, data []byte, contentType string) (Locator, error) {
	loc := Locator{Bucket: bucket, Key: key}
	m.mu.Lock()
	m.objects[loc] = memObject{data: append([]byte(nil), data...), contentType: contentType}
	m.mu.Unlock()
	return loc, nil
}

// Get returns a copy of the stored bytes.
func (m *Memory) Get(_ context.Context, loc Locator) ([]byte, string, error) {
	m.mu.RLock()
	obj, ok := m.objects[loc]
	m.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("object %s/%s: %w", loc.Bucket, loc.Key, errs.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

// Delete drops the object.
func (m *Memory) Delete(_ context.Context, loc Locator) error {
	m.mu.Lock()
	delete(m.objects, loc)
	m.mu.Unlock()
	return nil
}

// Len reports how many objects are held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
