package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"duck-bi/internal/domain"
)

// dataSourceSchema is the refreshed metadata of a data source. Connection
// details are never echoed back.
type dataSourceSchema struct {
	ID     string                `json:"id"`
	Name   string                `json:"name"`
	Type   domain.DataSourceType `json:"type"`
	Tables []domain.TableSchema  `json:"tables"`
}

func (h *APIHandler) refreshDataSource(w http.ResponseWriter, r *http.Request) {
	ds, err := h.catalog.RefreshSchema(r.Context(), chi.URLParam(r, "dataSourceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataSourceSchema{ID: ds.ID, Name: ds.Name, Type: ds.Type, Tables: ds.Tables})
}
