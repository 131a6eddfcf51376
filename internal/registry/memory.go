package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nmslite/targetwatch/internal/models"
)

// Memory is an in-process registry, used for static targets from config
type Memory struct {
	mu      sync.RWMutex
	targets map[string]models.Target
}

// NewMemory creates a registry holding the given targets.
// Every target is validated; a duplicate id is an error.
func NewMemory(targets ...models.Target) (*Memory, error) {
	m := &Memory{targets: make(map[string]models.Target, len(targets))}
	for _, t := range targets {
		if _, dup := m.targets[t.ID]; dup {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		if err := m.Put(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Lookup implements Registry
func (m *Memory) Lookup(_ context.Context, id string) (models.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.targets[id]
	if !ok {
		return models.Target{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// List implements Lister. Targets are sorted by id.
func (m *Memory) List(_ context.Context) ([]models.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]models.Target, 0, len(m.targets))
	for _, t := range m.targets {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets, nil
}

// Put adds or replaces a target
func (m *Memory) Put(t models.Target) error {
	if err := models.ValidateTarget(t); err != nil {
		return err
	}
	m.mu.Lock()
	m.targets[t.ID] = t
	m.mu.Unlock()
	return nil
}

// Remove deletes a target. Unknown ids are ignored.
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	delete(m.targets, id)
	m.mu.Unlock()
}
