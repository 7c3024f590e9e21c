package kv

import (
	"context"
	"sort"
	"strings"
	"sync"

	"agentpass/pkg/platform/sentinel"
)

type memoryEntry struct {
	value []byte
	seq   uint64
}

// Memory keeps entries in process memory. It favors clarity over
// performance: Keys scans every entry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	nextSeq uint64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneBytes(entry.value), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		m.nextSeq++
		entry.seq = m.nextSeq
	}
	entry.value = cloneBytes(value)
	m.entries[key] = entry
	return nil
}

func (m *Memory) PutIfAbsent(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.nextSeq++
	m.entries[key] = memoryEntry{value: cloneBytes(value), seq: m.nextSeq}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type keyed struct {
		key string
		seq uint64
	}
	var matches []keyed
	for k, entry := range m.entries {
		if strings.HasPrefix(k, prefix) {
			matches = append(matches, keyed{key: k, seq: entry.seq})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })

	keys := make([]string, len(matches))
	for i, match := range matches {
		keys[i] = match.key
	}
	return keys, nil
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
