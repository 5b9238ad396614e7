package storage

import (
	"context"
	"sync"
)

// MemoryKV is an in-process KV. It is intended mainly for testing.
type MemoryKV struct {
	m     sync.RWMutex
	store map[string]string
}

var _ KV = &MemoryKV{}

// NewMemoryKV returns a new, empty memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{store: make(map[string]string)}
}

func (kv *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	kv.m.RLock()
	defer kv.m.RUnlock()
	v, ok := kv.store[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (kv *MemoryKV) Set(ctx context.Context, key, value string) error {
	kv.m.Lock()
	kv.store[key] = value
	kv.m.Unlock()
	return nil
}

func (kv *MemoryKV) Close() error {
	return nil
}
