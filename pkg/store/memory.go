package store

import (
	"context"
	"sync"

	"github.com/jaxron/conndef/pkg/connection"
)

// Memory is a Store kept in process memory. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	nextID  int
	defs    map[int]*connection.Definition
	history map[int][]*connection.HistoryEntry
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		defs:    make(map[int]*connection.Definition),
		history: make(map[int][]*connection.HistoryEntry),
	}
}

func (m *Memory) Create(_ context.Context, def *connection.Definition) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nameTaken(def.Name, 0) {
		return 0, ErrNameExists
	}

	m.nextID++
	def.ID = m.nextID
	m.defs[def.ID] = def.Clone()
	return def.ID, nil
}

func (m *Memory) Update(_ context.Context, def *connection.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.defs[def.ID]; !ok {
		return ErrNotFound
	}
	if m.nameTaken(def.Name, def.ID) {
		return ErrNameExists
	}
	m.defs[def.ID] = def.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id int) (*connection.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.defs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *Memory) GetByName(_ context.Context, name string) (*connection.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.defs {
		if d.Name == name {
			return d.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) List(_ context.Context, search string) ([]*connection.Definition, error) {
	return m.matching(search), nil
}

func (m *Memory) Page(_ context.Context, search string, pageNo, pageSize int) ([]*connection.Definition, int, error) {
	matched := m.matching(search)
	return Slice(matched, pageNo, pageSize), len(matched), nil
}

func (m *Memory) AppendHistory(_ context.Context, entry *connection.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *entry
	e.Definition = *entry.Definition.Clone()
	m.history[e.ConnectionDefinitionID] = append(m.history[e.ConnectionDefinitionID], &e)
	return nil
}

func (m *Memory) History(_ context.Context, id int) ([]*connection.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[id]
	out := make([]*connection.HistoryEntry, len(entries))
	for i, e := range entries {
		c := *e
		c.Definition = *e.Definition.Clone()
		out[i] = &c
	}
	return out, nil
}

func (m *Memory) matching(search string) []*connection.Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*connection.Definition, 0, len(m.defs))
	for _, d := range m.defs {
		all = append(all, d.Clone())
	}
	return Filter(all, search)
}

// nameTaken reports whether a definition other than id uses name.
// Callers hold m.mu.
func (m *Memory) nameTaken(name string, id int) bool {
	for _, d := range m.defs {
		if d.Name == name && d.ID != id {
			return true
		}
	}
	return false
}
