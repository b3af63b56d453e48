package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// maxRequestBody caps inbound request bodies. Message content is
// bounded separately by the orchestrator.
const maxRequestBody = 1 << 20 // 1MB

type createSessionRequest struct {
	TenantID string `json:"tenant_id"`
	Topic    string `json:"topic,omitempty"`
}

type messageRequest struct {
	Content string `json:"content"`
}

type slotResponse struct {
	ProjectIndex int    `json:"project_index"`
	SlotIndex    int    `json:"slot_index"`
	TenantID     string `json:"tenant_id,omitempty"`
	Tag          string `json:"tag,omitempty"`
}

func slotToResponse(slot *core.TenantSlot) slotResponse {
	resp := slotResponse{
		ProjectIndex: slot.ProjectIndex,
		SlotIndex:    slot.SlotIndex,
		TenantID:     slot.TenantID,
	}
	if !slot.Free() {
		resp.Tag = slot.Tag()
	}
	return resp
}

// handleClaimSlot assigns (or returns) the tenant's isolation slot.
func (s *Server) handleClaimSlot(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	slot, err := s.allocator.ClaimSlot(r.Context(), tenantID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, slotToResponse(slot))
}

// handleGetSlot returns the tenant's slot, or 404 if none is held.
func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	slot, err := s.allocator.SlotFor(r.Context(), tenantID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if slot == nil {
		s.respondError(w, core.ErrNotFound("slot for tenant", tenantID))
		return
	}
	s.respondJSON(w, http.StatusOK, slotToResponse(slot))
}

// handleListSlots returns the whole pool. Operator-facing.
func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.store.ListSlots(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := make([]slotResponse, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slotToResponse(slot))
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleCreateSession starts a new conversation session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	session, err := s.orchestrator.CreateSession(r.Context(), req.TenantID, req.Topic)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, session)
}

// handleGetSession returns a session with its full history.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(chi.URLParam(r, "sessionID"))
	session, err := s.orchestrator.GetSession(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, session)
}

// handleAbandonSession archives a session.
func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(chi.URLParam(r, "sessionID"))
	if err := s.orchestrator.AbandonSession(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// handleListSessions returns a tenant's sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	sessions, err := s.store.ListSessions(r.Context(), tenantID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*core.Session{}
	}
	s.respondJSON(w, http.StatusOK, sessions)
}

// handleMessage feeds one message into the session's state machine and
// returns the assistant's reply with the resulting phase.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(chi.URLParam(r, "sessionID"))

	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	reply, err := s.orchestrator.HandleMessage(r.Context(), id, req.Content)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reply)
}

// handleListAttempts returns the deployment attempt chain for the
// session's designed workflow.
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	id := core.SessionID(chi.URLParam(r, "sessionID"))
	session, err := s.orchestrator.GetSession(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if session.Definition == nil {
		s.respondJSON(w, http.StatusOK, []*core.DeploymentAttempt{})
		return
	}

	attempts, err := s.store.ListAttempts(r.Context(), session.Definition.Name)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if attempts == nil {
		attempts = []*core.DeploymentAttempt{}
	}
	s.respondJSON(w, http.StatusOK, attempts)
}

// decodeBody decodes a JSON request body with a size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return core.ErrValidation("INVALID_BODY", "request body is not valid JSON: "+err.Error())
	}
	return nil
}
