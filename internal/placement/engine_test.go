package placement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"frameworks/sextant/internal/balancer"
	"frameworks/sextant/internal/geo"
	"frameworks/sextant/internal/geocache"
	"frameworks/sextant/internal/resolver"
)

type fakeHost struct {
	mu        sync.Mutex
	nodes     []balancer.Node
	created   []CreateRequest
	voice     [][]byte
	createErr error
}

func (h *fakeHost) Nodes() []balancer.Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]balancer.Node(nil), h.nodes...)
}

func (h *fakeHost) Create(ctx context.Context, req CreateRequest) (*Resource, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, req)
	if h.createErr != nil {
		return nil, h.createErr
	}
	return &Resource{ID: "r1", TargetID: req.TargetID, Node: req.Node}, nil
}

func (h *fakeHost) VoiceUpdate(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.voice = append(h.voice, payload)
	return nil
}

type fakeLocator struct {
	hosts map[string]geo.Coordinate
	calls atomic.Int32
}

func (l *fakeLocator) Lookup(ctx context.Context, host string) (geo.Coordinate, bool) {
	l.calls.Add(1)
	c, ok := l.hosts[host]
	return c, ok
}

func (l *fakeLocator) LookupSelf(ctx context.Context) (geo.Coordinate, bool) {
	return geo.Coordinate{}, false
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var (
	euNode = balancer.Node{ID: "eu", Host: "eu.example.net"}
	usNode = balancer.Node{ID: "us", Host: "us.example.net"}
	jpNode = balancer.Node{ID: "jp", Host: "jp.example.net"}
)

func newLocator() *fakeLocator {
	return &fakeLocator{hosts: map[string]geo.Coordinate{
		"eu.example.net": {Lat: 50.1109, Lon: 8.6821},
		"us.example.net": {Lat: 39.0438, Lon: -77.4874},
		"jp.example.net": {Lat: 35.6762, Lon: 139.6503},
	}}
}

func voicePayload(guild, endpoint string) []byte {
	return []byte(`{"t":"VOICE_SERVER_UPDATE","d":{"guild_id":"` + guild + `","endpoint":"` + endpoint + `"}}`)
}

func TestLifecycleErrors(t *testing.T) {
	e := New(Config{Locator: newLocator()})
	if _, err := e.Start(nil); !errors.Is(err, ErrNilHost) {
		t.Fatalf("expected ErrNilHost, got %v", err)
	}
	if err := e.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := e.Refresh(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted from Refresh, got %v", err)
	}
	host := &fakeHost{}
	if _, err := e.Start(host); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.Start(host); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCreateInjectsNearestNode(t *testing.T) {
	store := geocache.New()
	store.SetNode("eu", geo.Coordinate{Lat: 50.1109, Lon: 8.6821})
	store.SetNode("us", geo.Coordinate{Lat: 39.0438, Lon: -77.4874})
	store.SetNode("jp", geo.Coordinate{Lat: 35.6762, Lon: 139.6503})
	selections := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_selections_total"}, []string{"outcome"})

	e := New(Config{Cache: store, Locator: newLocator(), Metrics: &Metrics{Selections: selections}})
	host := &fakeHost{nodes: []balancer.Node{usNode, euNode, jpNode}}
	wrapped, err := e.Start(host)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })

	ctx := context.Background()
	if err := wrapped.VoiceUpdate(ctx, voicePayload("guild-1", "japan123.discord.media:443")); err != nil {
		t.Fatalf("voice: %v", err)
	}
	if len(host.voice) != 1 {
		t.Fatal("voice update not delegated")
	}

	res, err := wrapped.Create(ctx, CreateRequest{TargetID: "guild-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Node != "jp" {
		t.Fatalf("got node %q, want jp", res.Node)
	}

	res, _ = wrapped.Create(ctx, CreateRequest{TargetID: "guild-1", Node: "us"})
	if res.Node != "us" {
		t.Fatalf("pinned node overridden: %q", res.Node)
	}
	if got := testutil.ToFloat64(selections.WithLabelValues("nearest")); got != 1 {
		t.Fatalf("nearest selections = %v, want 1", got)
	}
}

func TestCreatePassesHostErrorThrough(t *testing.T) {
	hostErr := errors.New("capacity exhausted")
	e := New(Config{Locator: newLocator()})
	wrapped, _ := e.Start(&fakeHost{nodes: []balancer.Node{euNode}, createErr: hostErr})
	t.Cleanup(func() { _ = e.Stop() })

	if _, err := wrapped.Create(context.Background(), CreateRequest{TargetID: "g"}); err != hostErr {
		t.Fatalf("got %v, want host error unchanged", err)
	}
}

func TestColdCreateUsesFirstNodeThenLearns(t *testing.T) {
	loc := newLocator()
	e := New(Config{Locator: loc})
	host := &fakeHost{nodes: []balancer.Node{usNode, euNode}}
	wrapped, _ := e.Start(host)
	t.Cleanup(func() { _ = e.Stop() })

	res, err := wrapped.Create(context.Background(), CreateRequest{TargetID: "guild-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Node != "us" {
		t.Fatalf("cold create got %q, want first node", res.Node)
	}
	eventually(t, func() bool {
		n, _, _ := e.Cache().Sizes()
		return n == 2
	})
}

func TestStopMakesDecoratorPassThrough(t *testing.T) {
	store := geocache.New()
	store.SetNode("eu", geo.Coordinate{Lat: 50, Lon: 8})
	store.SetNode("jp", geo.Coordinate{Lat: 35, Lon: 139})
	e := New(Config{Cache: store, Locator: newLocator()})
	host := &fakeHost{nodes: []balancer.Node{euNode, jpNode}}
	wrapped, _ := e.Start(host)

	if err := e.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	ctx := context.Background()
	_ = wrapped.VoiceUpdate(ctx, voicePayload("guild-1", "japan1.discord.media"))
	if _, ok := store.Target("guild-1"); ok {
		t.Fatal("hint captured after stop")
	}
	if len(host.voice) != 1 {
		t.Fatal("voice update not delegated after stop")
	}

	res, _ := wrapped.Create(ctx, CreateRequest{TargetID: "guild-1"})
	if res.Node != "" {
		t.Fatalf("node injected after stop: %q", res.Node)
	}

	if n, _, _ := store.Sizes(); n != 2 {
		t.Fatalf("cache cleared by stop, %d nodes left", n)
	}

	// A decorator from an earlier session stays inert after a restart.
	if _, err := e.Start(host); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	res, _ = wrapped.Create(ctx, CreateRequest{TargetID: "guild-1"})
	if res.Node != "" {
		t.Fatalf("stale decorator injected %q", res.Node)
	}
}

func TestRefreshJobLifecycle(t *testing.T) {
	loc := newLocator()
	e := New(Config{Locator: loc, RefreshInterval: time.Hour})
	host := &fakeHost{nodes: []balancer.Node{euNode, usNode}}

	if _, err := e.Start(host); err != nil {
		t.Fatalf("start: %v", err)
	}
	eventually(t, func() bool {
		n, _, _ := e.Cache().Sizes()
		return n == 2
	})
	_ = e.Stop()

	e.ClearCache()
	if n, _, _ := e.Cache().Sizes(); n != 0 {
		t.Fatal("ClearCache left node entries")
	}

	before := loc.calls.Load()
	if _, err := e.Start(host); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop() })
	eventually(t, func() bool {
		n, _, _ := e.Cache().Sizes()
		return n == 2 && loc.calls.Load() >= before+2
	})
}

func TestRefreshOnDemand(t *testing.T) {
	e := New(Config{Locator: newLocator()})
	_, _ = e.Start(&fakeHost{nodes: []balancer.Node{euNode, {Host: "nowhere.example.net"}}})
	t.Cleanup(func() { _ = e.Stop() })

	res, err := e.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Resolved != 1 || res.Unresolved != 1 {
		t.Fatalf("unexpected pass result %+v", res)
	}
}

func TestOverridesAndTargetResolver(t *testing.T) {
	ov := resolver.NewOverrides()
	ov.SetNode("us", geo.InRegion("japan"))
	e := New(Config{
		Locator:   newLocator(),
		Overrides: ov,
		TargetResolver: func(ctx context.Context, targetID string) (geo.Location, bool, error) {
			return geo.InRegion("tokyo-not-a-region"), true, nil
		},
	})
	_, _ = e.Start(&fakeHost{nodes: []balancer.Node{euNode, usNode}})
	t.Cleanup(func() { _ = e.Stop() })

	c, ok := e.ResolveNode(context.Background(), usNode)
	if !ok || c.Lon < 100 {
		t.Fatalf("override not applied: %v %v", c, ok)
	}

	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if key, ok := e.SelectNear(geo.Coordinate{Lat: 35, Lon: 139}); !ok || key != "us" {
		t.Fatalf("got %q %v, want us via override", key, ok)
	}

	if _, ok := e.ResolveTarget(context.Background(), "guild-9"); ok {
		t.Fatal("unknown region from callback and no self should not resolve")
	}
}

func TestHandleVoiceEventShapes(t *testing.T) {
	e := New(Config{Locator: newLocator()})
	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"direct", `{"guild_id":"g1","endpoint":"us-east12.discord.media:443"}`, true},
		{"gateway", `{"t":"VOICE_SERVER_UPDATE","d":{"guild_id":"g2","endpoint":"frankfurt3.discord.media"}}`, true},
		{"nested event", `{"event":{"guildId":"g3","endpoint":"sydney1.discord.media:443"}}`, true},
		{"unknown region", `{"guild_id":"g4","endpoint":"atlantis1.discord.media"}`, false},
		{"not json", `hello`, false},
		{"missing endpoint", `{"guild_id":"g5"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.HandleVoiceEvent([]byte(tt.payload)); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
	if _, targets, _ := e.Cache().Sizes(); targets != 3 {
		t.Fatalf("expected 3 target hints, got %d", targets)
	}
}

type forgetfulLocator struct {
	*fakeLocator
	failed  []string
	forgets atomic.Int32
}

func (l *forgetfulLocator) Forget() {
	l.forgets.Add(1)
	l.failed = nil
}

func (l *forgetfulLocator) FailedHosts() []string { return l.failed }

func TestClearCacheForgetsLookupFailures(t *testing.T) {
	loc := &forgetfulLocator{fakeLocator: newLocator(), failed: []string{"nowhere.example.net"}}
	e := New(Config{Locator: loc})

	if got := e.FailedLookups(); len(got) != 1 || got[0] != "nowhere.example.net" {
		t.Fatalf("FailedLookups = %v", got)
	}
	e.ClearCache()
	if loc.forgets.Load() != 1 {
		t.Fatal("ClearCache did not reach the locator")
	}
	if got := e.FailedLookups(); len(got) != 0 {
		t.Fatalf("FailedLookups after clear = %v", got)
	}

	plain := New(Config{Locator: newLocator()})
	if got := plain.FailedLookups(); got != nil {
		t.Fatalf("expected nil for a locator without failure memory, got %v", got)
	}
}
