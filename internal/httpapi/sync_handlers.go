package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fieldsync/syncserver/internal/auth"
	"github.com/fieldsync/syncserver/internal/syncengine"
)

// conflictResponse is the 409 body shape returned for an unresolved conflict.
type conflictResponse struct {
	Error             string                `json:"error"`
	ConflictField     string                `json:"conflict_field,omitempty"`
	ConflictType      string                `json:"conflict_type,omitempty"`
	LatestData        syncengine.Record     `json:"latest_data"`
	AllowedStrategies []string              `json:"allowed_strategies"`
	ClientID          string                `json:"client_id,omitempty"`
	ServerID          string                `json:"server_id,omitempty"`
}

// writeEngineError maps a syncengine.Error's Kind to the status code and
// body shape the sync routes respond with for it.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var e *syncengine.Error
	if !errors.As(err, &e) {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	switch e.Kind {
	case syncengine.KindValidation:
		writeError(w, r, http.StatusBadRequest, e.Message)
	case syncengine.KindConflict:
		writeJSON(w, http.StatusConflict, conflictResponse{
			Error:             e.Message,
			ConflictField:     e.ConflictField,
			ConflictType:      e.ConflictType,
			LatestData:        e.LatestData,
			AllowedStrategies: e.AllowedStrategies,
			ClientID:          e.ClientID,
			ServerID:          e.ServerID,
		})
	default:
		writeError(w, r, http.StatusInternalServerError, e.Message)
	}
}

// syncResponse is the 200 body for a successful sync call.
type syncResponse struct {
	Success  bool              `json:"success"`
	IsNew    bool              `json:"isNew"`
	ServerID string            `json:"server_id"`
	Data     syncengine.Record `json:"data"`
}

// syncHandler builds the POST /api/sync/{entity} handler for one registry
// entity key.
func (s *Server) syncHandler(entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body syncengine.Record
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid json body")
			return
		}

		ownerID := auth.UserID(r.Context())
		res, err := s.Engine.Sync(r.Context(), entity, ownerID, body)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, syncResponse{
			Success:  true,
			IsNew:    res.Created,
			ServerID: res.ServerID,
			Data:     res.Data,
		})
	}
}

// resolveConflictReq is the request body for POST .../resolve-conflict.
type resolveConflictReq struct {
	Strategy string            `json:"resolution_strategy"`
	Data     syncengine.Record `json:"data"`
}

// resolveResponse is the 200 body returned for resolve-conflict.
type resolveResponse struct {
	Success           bool              `json:"success"`
	Status            string            `json:"status"`
	Message           string            `json:"message"`
	ServerID          string            `json:"server_id"`
	ResolvedData      syncengine.Record `json:"resolvedData"`
	IsNew             bool              `json:"isNew"`
	ResolutionStrategy string           `json:"resolution_strategy"`
	AllowedStrategies []string          `json:"allowed_strategies"`
	ClientID          string            `json:"client_id"`
}

// resolveConflictHandler builds the POST /api/sync/{entity}/resolve-conflict
// handler for one registry entity key.
func (s *Server) resolveConflictHandler(entity string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveConflictReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid json body")
			return
		}

		ownerID := auth.UserID(r.Context())
		res, err := s.Engine.ResolveConflict(r.Context(), entity, ownerID, req.Strategy, req.Data)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, resolveResponse{
			Success:            true,
			Status:             "resolved",
			Message:            "conflict resolved",
			ServerID:           res.ServerID,
			ResolvedData:       res.ResolvedData,
			IsNew:              res.IsNew,
			ResolutionStrategy: res.ResolutionStrategy,
			AllowedStrategies:  res.AllowedStrategies,
			ClientID:           res.ClientID,
		})
	}
}
