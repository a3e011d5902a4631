// Package registry is an in-memory node registry that satisfies
// placement.Host. It keeps nodes in registration order and records created
// resources.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"frameworks/sextant/internal/balancer"
	"frameworks/sextant/internal/placement"
	"frameworks/sextant/pkg/logging"
)

var (
	ErrDuplicateNode = errors.New("node already registered")
	ErrUnknownNode   = errors.New("unknown node")
	ErrNoNodes       = errors.New("no nodes registered")
	ErrInvalidNode   = errors.New("node requires a host")
)

// VoiceSink receives voice payloads delivered to the registry.
type VoiceSink func(ctx context.Context, payload []byte)

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	nodes     []balancer.Node
	resources map[string]*placement.Resource
	logger    logging.Logger
	onVoice   VoiceSink
	now       func() time.Time
}

var _ placement.Host = (*Registry)(nil)

func New(logger logging.Logger) *Registry {
	return &Registry{
		resources: make(map[string]*placement.Resource),
		logger:    logging.OrDiscard(logger),
		now:       time.Now,
	}
}

// OnVoice sets a sink for voice payloads.
func (r *Registry) OnVoice(sink VoiceSink) {
	r.mu.Lock()
	r.onVoice = sink
	r.mu.Unlock()
}

// Add registers a node at the end of the pool.
func (r *Registry) Add(n balancer.Node) error {
	if n.Host == "" {
		return ErrInvalidNode
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.nodes {
		if existing.Key() == n.Key() {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.Key())
		}
	}
	r.nodes = append(r.nodes, n)
	r.logger.WithFields(logging.Fields{"node": n.Key(), "host": n.Host}).Info("Node registered")
	return nil
}

// Remove drops the node with the given key.
func (r *Registry) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.nodes {
		if n.Key() == key {
			r.nodes = append(r.nodes[:i:i], r.nodes[i+1:]...)
			r.logger.WithField("node", key).Info("Node removed")
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownNode, key)
}

// Nodes returns a copy of the pool in registration order.
func (r *Registry) Nodes() []balancer.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]balancer.Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Create records a resource. An unpinned request lands on the first node.
func (r *Registry) Create(ctx context.Context, req placement.CreateRequest) (*placement.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	node := req.Node
	if node == "" {
		if len(r.nodes) == 0 {
			return nil, ErrNoNodes
		}
		node = r.nodes[0].Key()
	} else if !r.hasNodeLocked(node) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}

	res := &placement.Resource{
		ID:        uuid.NewString(),
		TargetID:  req.TargetID,
		Node:      node,
		CreatedAt: r.now().UTC(),
	}
	r.resources[res.ID] = res
	return res, nil
}

// VoiceUpdate forwards the payload to the configured sink, if any.
func (r *Registry) VoiceUpdate(ctx context.Context, payload []byte) error {
	r.mu.RLock()
	sink := r.onVoice
	r.mu.RUnlock()
	if sink != nil {
		sink(ctx, payload)
	}
	return nil
}

// Resource looks up a created resource by ID.
func (r *Registry) Resource(id string) (*placement.Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[id]
	return res, ok
}

func (r *Registry) hasNodeLocked(key string) bool {
	for _, n := range r.nodes {
		if n.Key() == key {
			return true
		}
	}
	return false
}
