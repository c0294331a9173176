package store

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process store. Used by tests and the memory driver.
type Memory struct {
	mu    sync.RWMutex
	data  map[string][]byte
	bcast *broadcaster
	processLock
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), bcast: newBroadcaster(), processLock: newProcessLock()}
}

func (m *Memory) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = bytes.Clone(v)
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, values map[string][]byte) error {
	m.mu.Lock()
	changes := applyValues(m.data, values)
	m.mu.Unlock()
	m.bcast.publish(changes)
	return nil
}

func (m *Memory) Watch(ctx context.Context) (<-chan Change, error) {
	return m.bcast.subscribe(ctx)
}

func (m *Memory) Close() error {
	m.bcast.close()
	return nil
}

// applyValues writes values into data and returns the keys whose bytes actually changed.
func applyValues(data map[string][]byte, values map[string][]byte) []Change {
	var changes []Change
	for k, v := range values {
		old, had := data[k]
		if v == nil {
			if !had {
				continue
			}
			delete(data, k)
			changes = append(changes, Change{Key: k, OldValue: old})
			continue
		}
		if had && bytes.Equal(old, v) {
			continue
		}
		data[k] = bytes.Clone(v)
		changes = append(changes, Change{Key: k, OldValue: old, NewValue: bytes.Clone(v)})
	}
	return changes
}

// diffMaps returns the changes that turn prev into next.
func diffMaps(prev, next map[string][]byte) []Change {
	var changes []Change
	for k, nv := range next {
		if ov, ok := prev[k]; !ok || !bytes.Equal(ov, nv) {
			changes = append(changes, Change{Key: k, OldValue: prev[k], NewValue: nv})
		}
	}
	for k, ov := range prev {
		if _, ok := next[k]; !ok {
			changes = append(changes, Change{Key: k, OldValue: ov})
		}
	}
	return changes
}
