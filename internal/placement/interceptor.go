package placement

import (
	"context"

	"frameworks/sextant/internal/balancer"
)

// interceptor decorates a Host while its engine session is active. Once the
// session ends every call passes straight through to the wrapped host.
type interceptor struct {
	inner   Host
	engine  *Engine
	session uint64
}

var _ Host = (*interceptor)(nil)

func (i *interceptor) Nodes() []balancer.Node {
	return i.inner.Nodes()
}

// Create fills in the nearest node when the caller did not pin one. The host's
// error is returned unchanged.
func (i *interceptor) Create(ctx context.Context, req CreateRequest) (*Resource, error) {
	if req.Node == "" && i.engine.active(i.session) {
		if key, ok := i.engine.selector.Select(req.TargetID, i.inner.Nodes()); ok {
			req.Node = key
		}
	}
	return i.inner.Create(ctx, req)
}

// VoiceUpdate records any region hint in the payload, then delegates.
func (i *interceptor) VoiceUpdate(ctx context.Context, payload []byte) error {
	if i.engine.active(i.session) {
		i.engine.HandleVoiceEvent(payload)
	}
	return i.inner.VoiceUpdate(ctx, payload)
}

// Unwrap returns the decorated host.
func (i *interceptor) Unwrap() Host {
	return i.inner
}
