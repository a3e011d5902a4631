package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"frameworks/sextant/internal/balancer"
	"frameworks/sextant/internal/geo"
	"frameworks/sextant/internal/placement"
	"frameworks/sextant/internal/registry"
	"frameworks/sextant/internal/resolver"
	"frameworks/sextant/pkg/logging"
	"frameworks/sextant/pkg/middleware"
)

// Handlers serves the placement HTTP API.
type Handlers struct {
	engine    *placement.Engine
	host      placement.Host
	registry  *registry.Registry
	overrides *resolver.Overrides
	logger    logging.Logger
}

type Config struct {
	Engine *placement.Engine
	// Host is the decorated host returned by Engine.Start.
	Host      placement.Host
	Registry  *registry.Registry
	Overrides *resolver.Overrides
	Logger    logging.Logger
}

func New(cfg Config) *Handlers {
	return &Handlers{
		engine:    cfg.Engine,
		host:      cfg.Host,
		registry:  cfg.Registry,
		overrides: cfg.Overrides,
		logger:    logging.OrDiscard(cfg.Logger),
	}
}

// Register mounts the API. Mutating cache and node endpoints go through admin,
// which may be nil.
func (h *Handlers) Register(r gin.IRouter, admin gin.HandlerFunc) {
	if admin == nil {
		admin = func(c *gin.Context) { c.Next() }
	}
	r.GET("/nodes", h.ListNodes)
	r.GET("/select", h.Select)
	r.POST("/resources", h.CreateResource)
	r.POST("/events", h.PostEvent)
	r.GET("/events/ws", h.EventStream)
	r.GET("/cache", h.GetCache)

	protected := r.Group("/", admin)
	protected.POST("/nodes", h.AddNode)
	protected.DELETE("/nodes/:key", h.RemoveNode)
	protected.DELETE("/cache", h.ClearCache)
	protected.POST("/refresh", h.Refresh)
}

type nodeView struct {
	Key     string      `json:"key"`
	ID      string      `json:"id,omitempty"`
	Host    string      `json:"host"`
	Located bool        `json:"located"`
	Bucket  *geo.Bucket `json:"bucket,omitempty"`
}

func bucketPtr(c geo.Coordinate) *geo.Bucket {
	if b, ok := geo.BucketOf(c); ok {
		return &b
	}
	return nil
}

// ListNodes handles GET /nodes.
func (h *Handlers) ListNodes(c *gin.Context) {
	nodes := h.registry.Nodes()
	cache := h.engine.Cache()
	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		v := nodeView{Key: n.Key(), ID: n.ID, Host: n.Host}
		if coord, ok := cache.Node(n.Key()); ok {
			v.Located = true
			v.Bucket = bucketPtr(coord)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"nodes": out})
}

type addNodeRequest struct {
	ID       string `json:"id"`
	Host     string `json:"host" binding:"required"`
	Location string `json:"location"`
}

// AddNode handles POST /nodes. An optional location ("region" or "lat:lon")
// pins the node through an override.
func (h *Handlers) AddNode(c *gin.Context) {
	var req addNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n := balancer.Node{ID: req.ID, Host: req.Host}

	var loc geo.Location
	if req.Location != "" {
		var err error
		if loc, err = geo.ParseLocation(req.Location); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.registry.Add(n); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, registry.ErrDuplicateNode) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if !loc.IsZero() && h.overrides != nil {
		h.overrides.SetNode(n.Key(), loc)
	}

	c.JSON(http.StatusCreated, nodeView{Key: n.Key(), ID: n.ID, Host: n.Host})
}

// RemoveNode handles DELETE /nodes/:key.
func (h *Handlers) RemoveNode(c *gin.Context) {
	key := c.Param("key")
	if err := h.registry.Remove(key); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if h.overrides != nil {
		h.overrides.SetNode(key, geo.Location{})
	}
	c.Status(http.StatusNoContent)
}

// CreateResource handles POST /resources through the decorated host.
func (h *Handlers) CreateResource(c *gin.Context) {
	var req placement.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.host.Create(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, registry.ErrNoNodes):
			status = http.StatusServiceUnavailable
		case errors.Is(err, registry.ErrUnknownNode):
			status = http.StatusBadRequest
		}
		middleware.GetContextLogger(c, h.logger).WithError(err).Warn("Resource creation failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Select handles GET /select?target_id= or GET /select?lat=&lon=.
func (h *Handlers) Select(c *gin.Context) {
	var (
		key string
		ok  bool
	)
	if latStr, lonStr := c.Query("lat"), c.Query("lon"); latStr != "" || lonStr != "" {
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lon, errLon := strconv.ParseFloat(lonStr, 64)
		coord := geo.Coordinate{Lat: lat, Lon: lon}
		if errLat != nil || errLon != nil || !geo.IsValid(coord) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon must be valid coordinates"})
			return
		}
		key, ok = h.engine.SelectNear(coord)
	} else {
		key, ok = h.engine.Select(c.Query("target_id"))
	}

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no nodes available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": key})
}

type keyedBucket struct {
	Key    string      `json:"key"`
	Bucket *geo.Bucket `json:"bucket"`
}

func bucketList(m map[string]geo.Coordinate) []keyedBucket {
	out := make([]keyedBucket, 0, len(m))
	for k, c := range m {
		out = append(out, keyedBucket{Key: k, Bucket: bucketPtr(c)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// GetCache handles GET /cache. Locations are reported as H3 buckets.
func (h *Handlers) GetCache(c *gin.Context) {
	snap := h.engine.Cache().Snapshot()
	resp := gin.H{
		"nodes":   bucketList(snap.Nodes),
		"targets": bucketList(snap.Targets),
	}
	if snap.Self != nil {
		resp["self"] = bucketPtr(*snap.Self)
	}
	if failed := h.engine.FailedLookups(); len(failed) > 0 {
		resp["failed_hosts"] = failed
	}
	c.JSON(http.StatusOK, resp)
}

// ClearCache handles DELETE /cache.
func (h *Handlers) ClearCache(c *gin.Context) {
	h.engine.ClearCache()
	c.Status(http.StatusNoContent)
}

// Refresh handles POST /refresh and waits for the pass to complete.
func (h *Handlers) Refresh(c *gin.Context) {
	res, err := h.engine.Refresh(c.Request.Context())
	if err != nil {
		if errors.Is(err, placement.ErrNotStarted) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
