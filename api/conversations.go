package api

import (
	"log/slog"
	"net/http"

	"github.com/relaydesk/relaydesk/internal/conversation"
)

// ConversationHandler handles conversation store endpoints.
type ConversationHandler struct {
	store  *conversation.Store
	logger *slog.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(store *conversation.Store, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: logger}
}

// RegisterRoutes registers conversation routes on the given mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents/{id}/conversations", h.list)
	mux.HandleFunc("GET /api/conversations/{id}", h.get)
	mux.HandleFunc("POST /api/conversations/{id}/resolve", h.resolve)
}

func (h *ConversationHandler) list(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	agentID, err := pathUUID(r, "id")
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	convs, err := h.store.List(r.Context(), agentID, principal)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": convs,
		"total":         len(convs),
	}, h.logger)
}

func (h *ConversationHandler) get(w http.ResponseWriter, r *http.Request) {
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

	conv, err := h.store.Get(r.Context(), id, principal)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, conv, h.logger)
}

func (h *ConversationHandler) resolve(w http.ResponseWriter, r *http.Request) {
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

	conv, err := h.store.MarkResolved(r.Context(), id, principal)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, conv, h.logger)
}
