package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/relaydesk/relaydesk/internal/knowledge"
)

// KnowledgeHandler handles knowledge index endpoints.
type KnowledgeHandler struct {
	store  *knowledge.Store
	logger *slog.Logger
}

// NewKnowledgeHandler creates a knowledge handler.
func NewKnowledgeHandler(store *knowledge.Store, logger *slog.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{store: store, logger: logger}
}

// RegisterRoutes registers knowledge routes on the given mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/agents/{id}/fragments", h.add)
	mux.HandleFunc("GET /api/agents/{id}/fragments/search", h.search)
	mux.HandleFunc("DELETE /api/fragments/{id}", h.remove)
}

// AddFragmentRequest is the request body for ingesting a document fragment.
type AddFragmentRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

func (h *KnowledgeHandler) add(w http.ResponseWriter, r *http.Request) {
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

	var req AddFragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body", h.logger)
		return
	}

	frag, err := h.store.AddFragment(r.Context(), agentID, principal, knowledge.Document{
		Source:  req.Source,
		Content: req.Content,
	})
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusCreated, frag, h.logger)
}

func (h *KnowledgeHandler) search(w http.ResponseWriter, r *http.Request) {
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

	query := r.URL.Query().Get("q")
	topK := knowledge.DefaultTopK
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			topK = v
		}
	}

	results, err := h.store.QueryRelevant(r.Context(), agentID, principal, query, topK)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	}, h.logger)
}

func (h *KnowledgeHandler) remove(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	fragmentID, err := pathUUID(r, "id")
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	if err := h.store.RemoveFragment(r.Context(), fragmentID, principal); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
