package api

import (
	"net/http"

	"duck-bi/internal/domain"
)

func (h *APIHandler) executeQuery(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.semantic.ExecuteQuery(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) explainQuery(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.semantic.ExplainQuery(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) listQueryHistory(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.QueryHistoryFilter{
		EntityID: r.URL.Query().Get("entity_id"),
		Status:   r.URL.Query().Get("status"),
		Page:     page,
	}
	entries, total, err := h.semantic.ListHistory(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(entries, page, total))
}
