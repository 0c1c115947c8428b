package tokens

import (
	"container/list"
	"context"
	"sync"
)

// Memory keeps token pairs in process memory, in insertion order.
type Memory struct {
	mu    sync.RWMutex
	items map[string]*list.Element
	order *list.List // front = oldest
}

// NewMemory returns an empty in-memory store, optionally seeded with pairs
// in the given order.
func NewMemory(seed ...Pair) *Memory {
	m := &Memory{
		items: make(map[string]*list.Element),
		order: list.New(),
	}
	for _, p := range seed {
		m.set(p.Name, p.Secret)
	}
	return m
}

func (m *Memory) Set(_ context.Context, name, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(name, secret)
	return nil
}

func (m *Memory) set(name, secret string) {
	if el, ok := m.items[name]; ok {
		el.Value = Pair{Name: name, Secret: secret}
		return
	}
	m.items[name] = m.order.PushBack(Pair{Name: name, Secret: secret})
}

func (m *Memory) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	el, ok := m.items[name]
	if !ok {
		return "", false, nil
	}
	return el.Value.(Pair).Secret, true, nil
}

func (m *Memory) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[name]; ok {
		m.order.Remove(el)
		delete(m.items, name)
	}
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

func (m *Memory) LastPair(context.Context) (Pair, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	el := m.order.Back()
	if el == nil {
		return Pair{}, false, nil
	}
	return el.Value.(Pair), true, nil
}

func (m *Memory) Trim(_ context.Context, limit int) error {
	if limit <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.items) > limit {
		el := m.order.Front()
		m.order.Remove(el)
		delete(m.items, el.Value.(Pair).Name)
	}
	return nil
}

// Pairs returns a snapshot of the stored pairs, oldest first.
func (m *Memory) Pairs() []Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Pair, 0, len(m.items))
	for el := m.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(Pair))
	}
	return out
}
