// Package geocache holds the coordinates learned at runtime: per-node, per-target
// and the host's own location. Entries are never expired; they change only when
// overwritten or when the whole store is cleared.
package geocache

import (
	"sync"

	"frameworks/sextant/internal/geo"
)

// Store is safe for concurrent use. The last completed write for a key wins.
type Store struct {
	mu      sync.RWMutex
	nodes   map[string]geo.Coordinate
	targets map[string]geo.Coordinate
	self    *geo.Coordinate
}

func New() *Store {
	return &Store{
		nodes:   make(map[string]geo.Coordinate),
		targets: make(map[string]geo.Coordinate),
	}
}

// Node returns the cached coordinate for a node key. A miss means "not yet
// resolved", not "unreachable".
func (s *Store) Node(key string) (geo.Coordinate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.nodes[key]
	return c, ok
}

func (s *Store) SetNode(key string, c geo.Coordinate) {
	s.mu.Lock()
	s.nodes[key] = c
	s.mu.Unlock()
}

func (s *Store) Target(key string) (geo.Coordinate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.targets[key]
	return c, ok
}

// SetTarget records the newest hint for a target, replacing any older one.
func (s *Store) SetTarget(key string, c geo.Coordinate) {
	s.mu.Lock()
	s.targets[key] = c
	s.mu.Unlock()
}

// SetTargetIfAbsent writes c only when no coordinate is cached for key yet and
// reports whether it did.
func (s *Store) SetTargetIfAbsent(key string, c geo.Coordinate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.targets[key]; exists {
		return false
	}
	s.targets[key] = c
	return true
}

func (s *Store) Self() (geo.Coordinate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.self == nil {
		return geo.Coordinate{}, false
	}
	return *s.self, true
}

func (s *Store) SetSelf(c geo.Coordinate) {
	s.mu.Lock()
	s.self = &c
	s.mu.Unlock()
}

// Clear drops every entry, including the self location.
func (s *Store) Clear() {
	s.mu.Lock()
	s.nodes = make(map[string]geo.Coordinate)
	s.targets = make(map[string]geo.Coordinate)
	s.self = nil
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	Nodes   map[string]geo.Coordinate `json:"nodes"`
	Targets map[string]geo.Coordinate `json:"targets"`
	Self    *geo.Coordinate           `json:"self,omitempty"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Nodes:   make(map[string]geo.Coordinate, len(s.nodes)),
		Targets: make(map[string]geo.Coordinate, len(s.targets)),
	}
	for k, v := range s.nodes {
		snap.Nodes[k] = v
	}
	for k, v := range s.targets {
		snap.Targets[k] = v
	}
	if s.self != nil {
		self := *s.self
		snap.Self = &self
	}
	return snap
}

// Sizes returns the entry count of each store, for metrics.
func (s *Store) Sizes() (nodes, targets, self int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.self != nil {
		self = 1
	}
	return len(s.nodes), len(s.targets), self
}
