package connectors

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrConnectorExists is returned when registering a duplicate connector id.
var ErrConnectorExists = errors.New("connector already registered")

// Set holds the gateway's connectors keyed by id. It is filled at startup and
// only read afterwards.
type Set struct {
	mu   sync.RWMutex
	byID map[string]Connector
}

// NewSet creates an empty connector set.
func NewSet() *Set {
	return &Set{byID: make(map[string]Connector)}
}

// Add registers a connector.
func (s *Set) Add(c Connector) error {
	if c == nil {
		return fmt.Errorf("connector is nil")
	}
	id := c.ID()
	if id == "" {
		return fmt.Errorf("connector id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrConnectorExists, id)
	}
	s.byID[id] = c
	return nil
}

// Get returns the connector with the given id.
func (s *Set) Get(id string) (Connector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	return c, ok
}

// IDs returns connector ids sorted for deterministic output.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byID))
	for id := range s.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshots returns the health of every connector, sorted by id.
func (s *Set) Snapshots() []Snapshot {
	ids := s.IDs()
	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		c, _ := s.Get(id)
		out = append(out, c.Health())
	}
	return out
}

// CloseAll closes every connector and returns the first error.
func (s *Set) CloseAll() error {
	var first error
	for _, id := range s.IDs() {
		c, _ := s.Get(id)
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", id, err)
		}
	}
	return first
}
