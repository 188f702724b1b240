package api

import (
	"encoding/json"
	"net/http"
	"time"

	"simcore/internal/engine"

	"github.com/go-chi/chi/v5"
)

// routerHandlers holds the handler functions for the router.
// Used by both the standalone router (for testing) and the full Server.
type routerHandlers struct {
	engine EngineInterface
}

func (h *routerHandlers) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	UpdateEntityCount(snap.EntityCount)
	UpdateActionsPending(snap.ActionsPending)
	writeJSON(w, snap)
}

func (h *routerHandlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Metrics())
}

func (h *routerHandlers) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Errors())
}

func (h *routerHandlers) handleRegisterEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID         string         `json:"id"`
		Kind       string         `json:"kind"`
		Role       string         `json:"role"`
		Attributes map[string]any `json:"attributes"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		writeError(w, "Entity id is required", http.StatusBadRequest)
		return
	}

	kind, err := engine.ParseKind(req.Kind)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entity, err := h.engine.RegisterEntity(req.ID, kind, req.Role, req.Attributes)
	if err != nil {
		writeStructuredError(w, err, http.StatusConflict)
		return
	}

	writeJSONStatus(w, entity, http.StatusCreated)
}

func (h *routerHandlers) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entity := h.engine.Entity(chi.URLParam(r, "id"))
	if entity == nil {
		writeError(w, "Entity not found", http.StatusNotFound)
		return
	}
	writeJSON(w, entity)
}

func (h *routerHandlers) handleDeregisterEntity(w http.ResponseWriter, r *http.Request) {
	removed, err := h.engine.DeregisterEntity(chi.URLParam(r, "id"))
	if err != nil {
		writeStructuredError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"removed": removed})
}

func (h *routerHandlers) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action    string `json:"action"`
		ActorID   string `json:"actorId"`
		ActorKind string `json:"actorKind"`
		Payload   any    `json:"payload"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	kind, err := engine.ParseKind(req.ActorKind)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp := h.engine.Request(r.Context(), engine.NewRequest(req.Action, req.ActorID, kind, req.Payload))
	RecordHTTPRequest(r.Method, "/api/requests", time.Since(start))

	switch {
	case resp.OK:
		RecordRequestOutcome("ok")
	case resp.Err != nil && resp.Err.Code == engine.CodePermissionDenied:
		RecordRequestOutcome("denied")
	default:
		RecordRequestOutcome("failed")
	}

	writeJSON(w, resp)
}

func (h *routerHandlers) handleScheduleAction(w http.ResponseWriter, r *http.Request) {
	var spec engine.ActionSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if spec.ActionType == "" {
		writeError(w, "actionType is required", http.StatusBadRequest)
		return
	}

	id, err := h.engine.ScheduleAction(spec)
	if err != nil {
		writeStructuredError(w, err, http.StatusConflict)
		return
	}

	writeJSONStatus(w, map[string]string{"actionId": id}, http.StatusCreated)
}

func (h *routerHandlers) handleTick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Now int64 `json:"now"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Now == 0 {
		req.Now = time.Now().UnixMilli()
	}

	start := time.Now()
	result, err := h.engine.Tick(r.Context(), req.Now)
	RecordTick(time.Since(start))
	if err != nil {
		writeStructuredError(w, err, http.StatusConflict)
		return
	}

	writeJSON(w, result)
}

// writeJSON writes a JSON response with status 200 unless already set
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeJSONStatus writes a JSON response with an explicit status code
func writeJSONStatus(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a plain JSON error message
func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStructuredError surfaces engine structured errors with their code
func writeStructuredError(w http.ResponseWriter, err error, status int) {
	if serr, ok := err.(*engine.StructuredError); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"error": serr})
		return
	}
	writeError(w, err.Error(), status)
}
