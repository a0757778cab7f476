package store

import (
	"fmt"
	"sort"
	"sync"
)

// Memory is the volatile backend: per-conversation ordered slices guarded
// by one RWMutex. It exists for deployments that explicitly opt out of
// durability and for tests.
type Memory struct {
	mu    sync.RWMutex
	convs map[string][]memEntry
}

type memEntry struct {
	seq  uint64
	data []byte
}

// OpenMemory returns an empty volatile backend.
func OpenMemory() *Memory {
	return &Memory{convs: map[string][]memEntry{}}
}

func (m *Memory) Mode() Mode  { return ModeVolatile }
func (m *Memory) Ready() bool { return true }
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs = map[string][]memEntry{}
	return nil
}

func (m *Memory) Append(convID string, seq uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.convs[convID]
	if n := len(entries); n > 0 && entries[n-1].seq >= seq {
		return fmt.Errorf("non-monotonic seq %d for conversation %s", seq, convID)
	}
	m.convs[convID] = append(entries, memEntry{seq: seq, data: append([]byte(nil), data...)})
	return nil
}

func (m *Memory) Replace(convID string, seq uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.convs[convID]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].seq >= seq })
	if i >= len(entries) || entries[i].seq != seq {
		return fmt.Errorf("seq %d not found in conversation %s", seq, convID)
	}
	entries[i].data = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Delete(convID string, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.convs[convID]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].seq >= seq })
	if i >= len(entries) || entries[i].seq != seq {
		return nil
	}
	m.convs[convID] = append(entries[:i], entries[i+1:]...)
	if len(m.convs[convID]) == 0 {
		delete(m.convs, convID)
	}
	return nil
}

func (m *Memory) List(convID string, limit int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.convs[convID]
	start := 0
	if limit > 0 && len(entries) > limit {
		start = len(entries) - limit
	}
	out := make([][]byte, 0, len(entries)-start)
	for _, e := range entries[start:] {
		out = append(out, append([]byte(nil), e.data...))
	}
	return out, nil
}

func (m *Memory) LastSeq(convID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.convs[convID]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].seq, nil
}

func (m *Memory) Conversations() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.convs))
	for id := range m.convs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
