package state

import (
	"context"
	"sort"
	"sync"
)

// Memory implements Backend with in-process concurrency safety.
type Memory struct {
	mu     sync.RWMutex
	kv     map[string][]byte
	log    []LogEntry
	closed bool
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{kv: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.kv[string(key)]
	if !ok {
		return nil, false, nil
	}
	// return copy
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Apply(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, w := range b.Writes {
		if w.Delete {
			delete(m.kv, string(w.Key))
			continue
		}
		v := make([]byte, len(w.Value))
		copy(v, w.Value)
		m.kv[string(w.Key)] = v
	}
	m.log = append(m.log, b.Log...)
	return nil
}

func (m *Memory) Log(ctx context.Context, after uint64, limit int) ([]LogEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	// entries are appended in sequence order
	i := sort.Search(len(m.log), func(i int) bool { return m.log[i].Seq > after })
	var res []LogEntry
	for ; i < len(m.log) && len(res) < limit; i++ {
		res = append(res, m.log[i])
	}
	return res, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.kv)
}
