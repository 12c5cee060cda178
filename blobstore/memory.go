package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zhangyunhao116/skipmap"
)

// MemoryStore keeps blobs in an ordered concurrent map. It backs tests and
// in-process backups.
type MemoryStore struct {
	blobs *skipmap.OrderedMap[string, []byte]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: skipmap.New[string, []byte]()}
}

func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	data, ok := m.blobs.Load(name)
	if !ok {
		return nil, fmt.Errorf("memory: %s: %w", name, ErrNotFound)
	}
	return &memoryBlob{Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

// Put stores a private copy of data.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.blobs.Store(name, slices.Clone(data))
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.blobs.Delete(name)
	return nil
}

// List walks the map in key order, so the result is already sorted.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	m.blobs.Range(func(name string, _ []byte) bool {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return true
	})
	return names, nil
}

// Len returns the number of blobs.
func (m *MemoryStore) Len() int { return m.blobs.Len() }

type memoryBlob struct {
	*bytes.Reader
	size int64
}

func (b *memoryBlob) Close() error { return nil }

func (b *memoryBlob) Size() int64 { return b.size }
