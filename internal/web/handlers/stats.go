package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/registry"
)

const statsCacheTTL = 10 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *database.Stats
	expiresAt time.Time
}

func (c *statsCache) get() (*database.Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *database.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	registry *registry.Registry
	cache    statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(reg *registry.Registry) *StatsHandler {
	return &StatsHandler{registry: reg}
}

// Get returns registry statistics. Pass refresh=true to bypass the cache.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "true" {
		if cached, ok := h.cache.get(); ok {
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	st, err := h.registry.Statistics(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.cache.set(st)
	respondJSON(w, http.StatusOK, st)
}
