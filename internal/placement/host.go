package placement

import (
	"context"
	"time"

	"frameworks/sextant/internal/balancer"
)

// Host is the capability surface of a node registry that owns resource
// creation. The engine wraps it; it never mutates the host's node records.
type Host interface {
	// Nodes returns the node pool in registration order.
	Nodes() []balancer.Node
	// Create allocates a resource, on req.Node when set.
	Create(ctx context.Context, req CreateRequest) (*Resource, error)
	// VoiceUpdate delivers a raw voice-session event payload to the host.
	VoiceUpdate(ctx context.Context, payload []byte) error
}

// CreateRequest asks the host for a new resource for TargetID. An empty Node
// lets the engine choose.
type CreateRequest struct {
	TargetID string `json:"target_id"`
	Node     string `json:"node,omitempty"`
}

// Resource is a host-created unit of work pinned to a node.
type Resource struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id"`
	Node      string    `json:"node,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
