package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/agent"
	"github.com/relaydesk/relaydesk/internal/engine"
	"github.com/relaydesk/relaydesk/internal/knowledge"
)

// Agent validation bounds.
const (
	MaxNameLength         = 100
	MaxBusinessNameLength = 200
	MaxDescriptionLength  = 2000
)

// AgentHandler handles agent registry endpoints.
type AgentHandler struct {
	store  *agent.Store
	index  *knowledge.Store
	logger *slog.Logger
}

// NewAgentHandler creates an agent handler. The knowledge store supplies the
// fragment count in the detail response.
func NewAgentHandler(store *agent.Store, index *knowledge.Store, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{store: store, index: index, logger: logger}
}

// RegisterRoutes registers agent routes on the given mux.
func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/agents", h.create)
	mux.HandleFunc("GET /api/agents", h.list)
	mux.HandleFunc("GET /api/agents/{id}", h.get)
	mux.HandleFunc("PATCH /api/agents/{id}", h.update)
	mux.HandleFunc("DELETE /api/agents/{id}", h.delete)
}

// CreateAgentRequest is the request body for creating an agent.
type CreateAgentRequest struct {
	Name         string `json:"name"`
	BusinessName string `json:"business_name"`
	Description  string `json:"description"`
	Tone         string `json:"tone"`
}

func (h *AgentHandler) create(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body", h.logger)
		return
	}
	if len(req.Name) > MaxNameLength || len(req.BusinessName) > MaxBusinessNameLength ||
		len(req.Description) > MaxDescriptionLength {
		writeError(w, http.StatusBadRequest, "invalid_input", "field length limit exceeded", h.logger)
		return
	}

	created, err := h.store.Create(r.Context(), principal.TenantID, principal, agent.Spec{
		Name:         req.Name,
		BusinessName: req.BusinessName,
		Description:  req.Description,
		Tone:         req.Tone,
	})
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, created, h.logger)
}

func (h *AgentHandler) list(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	agents, err := h.store.ListByTenant(r.Context(), principal.TenantID, principal)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"total":  len(agents),
	}, h.logger)
}

// agentDetail is the GET /api/agents/{id} response body.
type agentDetail struct {
	agent.Agent
	FragmentCount int64 `json:"fragment_count"`
}

func (h *AgentHandler) get(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	ag, err := h.store.Get(r.Context(), id, principal)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	count, err := h.index.CountByAgent(r.Context(), id, principal)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, agentDetail{Agent: *ag, FragmentCount: count}, h.logger)
}

// UpdateAgentRequest is the request body for a partial agent update. Absent
// fields are left unchanged.
type UpdateAgentRequest struct {
	Name         *string `json:"name"`
	BusinessName *string `json:"business_name"`
	Description  *string `json:"description"`
	Tone         *string `json:"tone"`
}

func (h *AgentHandler) update(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	var req UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body", h.logger)
		return
	}

	updated, err := h.store.Update(r.Context(), id, principal, agent.Patch{
		Name:         req.Name,
		BusinessName: req.BusinessName,
		Description:  req.Description,
		Tone:         req.Tone,
	})
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, updated, h.logger)
}

func (h *AgentHandler) delete(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), id, principal); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathUUID parses a UUID path value.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return parseUUIDField(r.PathValue(name), name)
}

func parseUUIDField(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", engine.ErrInvalidInput, name)
	}
	return id, nil
}
