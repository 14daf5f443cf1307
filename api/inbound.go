package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/relaydesk/relaydesk/internal/dispatch"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// InboundHandler handles the service-to-service inbound message endpoint.
type InboundHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewInboundHandler creates an inbound handler.
func NewInboundHandler(dispatcher *dispatch.Dispatcher, logger *slog.Logger) *InboundHandler {
	return &InboundHandler{dispatcher: dispatcher, logger: logger}
}

// Handler returns the bare inbound handler. The server wraps it with service
// auth and rate limiting before mounting it.
func (h *InboundHandler) Handler() http.Handler {
	return http.HandlerFunc(h.inbound)
}

// InboundRequest is one customer message entering from a channel connector.
type InboundRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (h *InboundHandler) inbound(w http.ResponseWriter, r *http.Request) {
	var req InboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body", h.logger)
		return
	}

	agentID, err := parseUUIDField(req.AgentID, "agent_id")
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	// Channel connectors authenticate with the shared service token and act
	// across tenants on behalf of customers.
	result, err := h.dispatcher.HandleInbound(r.Context(), agentID, req.SessionID, req.Text, tenant.Service())
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, result, h.logger)
}
