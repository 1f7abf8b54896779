/*
scenarios.go - Member directory, demo scenarios and admin operations

PURPOSE:
  Endpoints that run without an acting member: they populate or wipe the
  database, so they must work on an empty directory.

ENDPOINTS:
  GET    /api/members            List members
  POST   /api/members            Create or update a member
  GET    /api/scenarios          List built-in scenarios
  POST   /api/scenarios/load     {"name": "summer-split"}
  POST   /api/admin/reset        Delete bookings, periods and audit entries
  POST   /api/admin/remind       Send the pending digests now

HOW SCENARIOS WORK:
  1. Reset the database (members are kept)
  2. Parse the embedded YAML seed (factory/scenarios/*.yaml)
  3. Replay it through the ledger, so every booking goes through the same
     admission control and audit as a real request

NOTE:
  Loading a scenario resets the database. Only use in development/demo
  environments.

SEE ALSO:
  - factory/seed.go: Seed format and replay
  - handlers.go: Error mapping, JSON helpers
*/
package api

import (
	"net/http"
	"strings"

	"github.com/warp/shared-stay/factory"
	"github.com/warp/shared-stay/reservation"
)

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListMembers(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = h.toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember adds a user to the directory, or moves an existing one.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(w, http.StatusBadRequest, "Username is required", nil)
		return
	}
	g, err := reservation.ParseGroup(strings.ToUpper(req.Group))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid group", err)
		return
	}

	m := reservation.Member{
		Username:    username,
		Group:       g,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Email:       strings.TrimSpace(req.Email),
		CreatedAt:   h.Now(),
	}
	if err := h.Store.SaveMember(r.Context(), m); err != nil {
		h.internalError(w, r, err)
		return
	}
	h.Logger.Info("member saved", "user", m.Username, "group", m.Group)
	writeJSON(w, http.StatusCreated, h.toMemberDTO(m))
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	infos, err := factory.Scenarios()
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	dtos := make([]ScenarioDTO, len(infos))
	for i, s := range infos {
		dtos[i] = ScenarioDTO{Name: s.Name, Description: s.Description, Current: s.Name == current}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario resets the database and replays a built-in scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	seed, err := factory.Scenario(req.Name)
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.internalError(w, r, err)
		return
	}
	h.currentScenario = ""

	res, err := seed.Apply(r.Context(), factory.Target{
		Ledger:    h.Ledger,
		Ownership: h.Ownership,
		Members:   h.Store,
	})
	if err != nil {
		// Built-in scenarios are tested to apply cleanly.
		h.internalError(w, r, err)
		return
	}
	h.currentScenario = seed.Name
	h.Logger.Info("scenario loaded",
		"scenario", seed.Name,
		"members", res.Members,
		"bookings", len(res.Bookings),
		"steps", res.Steps,
	)
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ResetDatabase clears bookings, ownership periods and the audit trail.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.internalError(w, r, err)
		return
	}
	h.currentScenario = ""
	h.Logger.Warn("database reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// SendReminders dispatches the pending digests immediately.
func (h *Handler) SendReminders(w http.ResponseWriter, r *http.Request) {
	if h.Notifier == nil {
		writeError(w, http.StatusConflict, "Notifications are not configured", nil)
		return
	}
	sent, err := h.Notifier.SendDigests(r.Context(), h.Store)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
