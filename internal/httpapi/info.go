package httpapi

import (
	"net/http"
	"time"
)

// ServerInfo describes server capabilities for unauthenticated capability
// discovery, so a client can decide batch sizes and recognize unsupported
// entity kinds before attempting a sync.
type ServerInfo struct {
	APIVersion       string                      `json:"apiVersion"`
	ServerTime       string                      `json:"serverTime"`
	Entities         map[string]EntityCapability `json:"entities"`
	RecommendedBatch int                         `json:"recommendedBatch"`
	MinClientVersion string                      `json:"minClientVersion"`
}

// EntityCapability describes capabilities for a specific entity kind.
type EntityCapability struct {
	MaxLimit int  `json:"maxLimit"`
	Enabled  bool `json:"enabled"`
}

// Info handles GET /api/sync/info. Unauthenticated: capability discovery
// must work before a client has a bearer token.
func (s *Server) Info(w http.ResponseWriter, r *http.Request) {
	info := ServerInfo{
		APIVersion: "1.0",
		ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		Entities: map[string]EntityCapability{
			"user":            {MaxLimit: 1000, Enabled: true},
			"registration":    {MaxLimit: 1000, Enabled: true},
			"supply":          {MaxLimit: 1000, Enabled: true},
			"task":            {MaxLimit: 1000, Enabled: true},
			"task-assignment": {MaxLimit: 1000, Enabled: true},
			"location":        {MaxLimit: 1000, Enabled: true},
			"alert":           {MaxLimit: 1000, Enabled: true},
			"notification":    {MaxLimit: 1000, Enabled: true},
		},
		RecommendedBatch: 500,
		MinClientVersion: "0.1.0",
	}

	writeJSON(w, http.StatusOK, info)
}
