package storage

import (
	"context"
	"sync"
)

// memoryBackend keeps everything in a map. Useful for tests and throwaway
// runs; nothing survives a restart.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory returns an in-process backend.
func NewMemory() Backend {
	return &memoryBackend{entries: map[string][]byte{}}
}

func (b *memoryBackend) GetAll(ctx context.Context) (map[string][]byte, error) {
	_ = ctx
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]byte, len(b.entries))
	for k, v := range b.entries {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (b *memoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *memoryBackend) Put(ctx context.Context, key string, value []byte) error {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = append([]byte(nil), value...)
	return nil
}

func (b *memoryBackend) Delete(ctx context.Context, key string) (bool, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	_, existed := b.entries[key]
	delete(b.entries, key)
	return existed, nil
}

func (b *memoryBackend) Count(ctx context.Context) (int, error) {
	_ = ctx
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries), nil
}

func (b *memoryBackend) Maintain(ctx context.Context) error { return nil }

func (b *memoryBackend) Close() error { return nil }
