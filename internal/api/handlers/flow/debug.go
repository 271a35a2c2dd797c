package flow

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/victorsharp-labs/flow-proxy/internal/buildinfo"
	"github.com/victorsharp-labs/flow-proxy/internal/cache"
	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"github.com/victorsharp-labs/flow-proxy/internal/logging"
)

const defaultDebugLogLimit = 100

// OperationInfo describes one configured operation for diagnostics.
type OperationInfo struct {
	Method         string   `json:"method"`
	TimeoutSeconds float64  `json:"timeoutSeconds"`
	Candidates     []string `json:"candidates"`
}

// CacheInfo describes the endpoint cache for diagnostics.
type CacheInfo struct {
	Enabled    bool                     `json:"enabled"`
	TTLSeconds float64                  `json:"ttlSeconds"`
	Entries    []cache.EndpointSnapshot `json:"entries"`
	Stats      cache.EndpointCacheStats `json:"stats"`
}

// DebugEnvResponse is the body of GET /debug/env. It never carries credentials.
type DebugEnvResponse struct {
	OK              bool                     `json:"ok"`
	Service         string                   `json:"service"`
	Version         string                   `json:"version"`
	BaseURL         string                   `json:"baseUrl"`
	ProxyConfigured bool                     `json:"proxyConfigured"`
	Operations      map[string]OperationInfo `json:"operations"`
	Cache           CacheInfo                `json:"cache"`
}

// DebugEnv reports the effective upstream configuration and the endpoint cache state.
// GET /debug/env
func (h *Handler) DebugEnv(c *gin.Context) {
	up := &h.cfg.Upstream
	ops := make(map[string]OperationInfo, len(config.OperationNames))
	for _, name := range config.OperationNames {
		ops[name] = OperationInfo{
			Method:         up.MethodFor(name),
			TimeoutSeconds: up.TimeoutFor(name).Seconds(),
			Candidates:     up.CandidatesFor(name),
		}
	}

	endpoints := h.resolver.Cache()
	entries := endpoints.Snapshot()
	if entries == nil {
		entries = []cache.EndpointSnapshot{}
	}

	c.JSON(http.StatusOK, DebugEnvResponse{
		OK:              true,
		Service:         buildinfo.ServiceName,
		Version:         buildinfo.Version,
		BaseURL:         up.BaseURL,
		ProxyConfigured: up.ProxyURL != "",
		Operations:      ops,
		Cache: CacheInfo{
			Enabled:    endpoints.Enabled(),
			TTLSeconds: endpoints.TTL().Seconds(),
			Entries:    entries,
			Stats:      endpoints.Stats(),
		},
	})
}

// DebugClearCache drops remembered endpoints so the next call re-probes every candidate.
// DELETE /debug/cache?operation=NAME
func (h *Handler) DebugClearCache(c *gin.Context) {
	endpoints := h.resolver.Cache()
	operation := c.Query("operation")
	if operation == "" {
		endpoints.Clear()
		c.JSON(http.StatusOK, gin.H{"ok": true, "cleared": config.OperationNames})
		return
	}
	if !slices.Contains(config.OperationNames, operation) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unknown operation " + strconv.Quote(operation), "code": "invalid_payload"})
		return
	}
	endpoints.Invalidate(operation)
	c.JSON(http.StatusOK, gin.H{"ok": true, "cleared": []string{operation}})
}

// DebugLogs returns the most recent buffered log lines.
// GET /debug/logs?limit=N
func (h *Handler) DebugLogs(c *gin.Context) {
	logging.SkipGinRequestLogging(c)

	limit := defaultDebugLogLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "limit must be a non-negative integer", "code": "invalid_payload"})
			return
		}
		limit = n
	}

	buffer := h.logs
	if buffer == nil {
		buffer = logging.GlobalBuffer
	}
	entries := buffer.Recent(limit)
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"count":   len(entries),
		"entries": entries,
	})
}
