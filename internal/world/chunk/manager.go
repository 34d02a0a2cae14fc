package chunk

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Manager maps chunk coordinates to columns, backed by a Provider and a
// Generator, deduplicating concurrent in-flight loads/generations for the
// same coord.
type Manager struct {
	provider  Provider
	generator Generator

	group singleflight.Group

	mu       sync.RWMutex
	columns  map[Coord]*Column
	dirty    map[Coord]struct{}
	isLoaded map[Coord]bool
}

// NewManager constructs a Manager over provider/generator.
func NewManager(provider Provider, generator Generator) *Manager {
	return &Manager{
		provider:  provider,
		generator: generator,
		columns:   make(map[Coord]*Column),
		dirty:     make(map[Coord]struct{}),
		isLoaded:  make(map[Coord]bool),
	}
}

// Loaded reports whether pos is currently resident in memory.
func (m *Manager) Loaded(pos Coord) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.columns[pos]
	return ok
}

// GetOrCreate returns pos's in-memory column, loading it from the provider
// or generating it on miss. This is the tick's suspension point for chunk
// streaming 
// — it blocks the calling goroutine but is safe to call concurrently for
// distinct coords, and deduplicated for identical coords.
func (m *Manager) GetOrCreate(ctx context.Context, pos Coord) (col *Column, generated bool, err error) {
	if col := m.peek(pos); col != nil {
		return col, false, nil
	}

	key := fmt.Sprintf("%d:%d:%d", pos.X, pos.Z, pos.Dimension)
	v, err, _ := m.group.Do(key, func() (any, error) {
		if col := m.peek(pos); col != nil {
			return col, nil
		}
		loaded, err := m.provider.LoadColumn(ctx, pos)
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			m.store(pos, loaded, false)
			return loaded, nil
		}
		gen, err := m.generator.Generate(ctx, pos)
		if err != nil {
			return nil, err
		}
		gen.Generated = true
		m.store(pos, gen, true)
		return gen, nil
	})
	if err != nil {
		return nil, false, err
	}
	col = v.(*Column)
	return col, col.Generated, nil
}

func (m *Manager) peek(pos Coord) *Column {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.columns[pos]
}

func (m *Manager) store(pos Coord, col *Column, dirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns[pos] = col
	m.isLoaded[pos] = true
	if dirty {
		m.dirty[pos] = struct{}{}
	}
}

// MarkDirty flags pos as modified since its last save.
func (m *Manager) MarkDirty(pos Coord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[pos] = struct{}{}
}

// IsDirty reports whether pos has unsaved changes.
func (m *Manager) IsDirty(pos Coord) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dirty[pos]
	return ok
}

// Evict saves pos if dirty, then drops it from memory.
func (m *Manager) Evict(ctx context.Context, pos Coord) error {
	m.mu.Lock()
	col, ok := m.columns[pos]
	_, dirty := m.dirty[pos]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if dirty {
		if err := m.provider.SaveColumn(ctx, pos, col); err != nil {
			return err
		}
	}
	m.mu.Lock()
	delete(m.columns, pos)
	delete(m.dirty, pos)
	delete(m.isLoaded, pos)
	m.mu.Unlock()
	return nil
}

// SaveAllDirty persists every dirty column, used on graceful shutdown.
func (m *Manager) SaveAllDirty(ctx context.Context) error {
	m.mu.RLock()
	coords := make([]Coord, 0, len(m.dirty))
	for c := range m.dirty {
		coords = append(coords, c)
	}
	m.mu.RUnlock()

	for _, c := range coords {
		m.mu.RLock()
		col := m.columns[c]
		m.mu.RUnlock()
		if col == nil {
			continue
		}
		if err := m.provider.SaveColumn(ctx, c, col); err != nil {
			return err
		}
		m.mu.Lock()
		delete(m.dirty, c)
		m.mu.Unlock()
	}
	return m.provider.Flush(ctx)
}

// Close releases the underlying provider.
func (m *Manager) Close() error { return m.provider.Close() }
