package keystore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryBackend はプロセス内に保持するBackend。開発用とテスト用。
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	payload []byte
	version int64
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend は空のMemoryBackendを生成する。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]memoryRecord)}
}

func (b *MemoryBackend) Get(_ context.Context, name string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[name]
	if !ok {
		return nil, fmt.Errorf("keyset %q: %w", name, ErrKeysetNotFound)
	}
	return &Record{Payload: append([]byte(nil), r.payload...), Version: strconv.FormatInt(r.version, 10)}, nil
}

func (b *MemoryBackend) Insert(_ context.Context, name string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[name]; ok {
		return fmt.Errorf("keyset %q: %w", name, ErrKeysetExists)
	}
	b.records[name] = memoryRecord{payload: append([]byte(nil), payload...), version: 1}
	return nil
}

func (b *MemoryBackend) Update(_ context.Context, name string, payload []byte, version string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[name]
	if !ok {
		return "", fmt.Errorf("keyset %q: %w", name, ErrKeysetNotFound)
	}
	if strconv.FormatInt(r.version, 10) != version {
		return "", fmt.Errorf("keyset %q: %w", name, ErrConflict)
	}
	r = memoryRecord{payload: append([]byte(nil), payload...), version: r.version + 1}
	b.records[name] = r
	return strconv.FormatInt(r.version, 10), nil
}

func (b *MemoryBackend) Delete(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[name]; !ok {
		return fmt.Errorf("keyset %q: %w", name, ErrKeysetNotFound)
	}
	delete(b.records, name)
	return nil
}

// Len は保存されているキーセットの数を返す。
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
