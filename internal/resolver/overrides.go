package resolver

import (
	"sync"

	"frameworks/sextant/internal/geo"
)

// OverrideSource supplies caller-configured locations. It is consulted on
// every resolution, so changes take effect on the next resolve.
type OverrideSource interface {
	NodeOverride(nodeKey string) (geo.Location, bool)
	TargetOverride(targetKey string) (geo.Location, bool)
}

// Overrides is a mutable, concurrency-safe OverrideSource.
type Overrides struct {
	mu      sync.RWMutex
	nodes   map[string]geo.Location
	targets map[string]geo.Location
}

func NewOverrides() *Overrides {
	return &Overrides{
		nodes:   make(map[string]geo.Location),
		targets: make(map[string]geo.Location),
	}
}

func (o *Overrides) NodeOverride(nodeKey string) (geo.Location, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	l, ok := o.nodes[nodeKey]
	return l, ok
}

func (o *Overrides) TargetOverride(targetKey string) (geo.Location, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	l, ok := o.targets[targetKey]
	return l, ok
}

// SetNode pins a node's location. A zero Location removes the pin.
func (o *Overrides) SetNode(nodeKey string, l geo.Location) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l.IsZero() {
		delete(o.nodes, nodeKey)
		return
	}
	o.nodes[nodeKey] = l
}

// SetTarget pins a target's location. A zero Location removes the pin.
func (o *Overrides) SetTarget(targetKey string, l geo.Location) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l.IsZero() {
		delete(o.targets, targetKey)
		return
	}
	o.targets[targetKey] = l
}
