package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"duck-bi/internal/domain"
)

func (h *APIHandler) validatePipeline(w http.ResponseWriter, r *http.Request) {
	report, err := h.pipelines.Validate(r.Context(), chi.URLParam(r, "pipelineID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// executePipeline runs a pipeline synchronously. A run that completes with
// status failed is still a 200: the run is the resource and carries the error.
func (h *APIHandler) executePipeline(w http.ResponseWriter, r *http.Request) {
	var opts domain.ExecuteOptions
	if err := decodeBody(r, &opts); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.pipelines.ExecutePipeline(r.Context(), chi.URLParam(r, "pipelineID"), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) submitPipeline(w http.ResponseWriter, r *http.Request) {
	var opts domain.ExecuteOptions
	if err := decodeBody(r, &opts); err != nil {
		h.writeError(w, r, err)
		return
	}
	run, err := h.pipelines.SubmitPipeline(r.Context(), chi.URLParam(r, "pipelineID"), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

func (h *APIHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := domain.PipelineRunFilter{
		PipelineID: chi.URLParam(r, "pipelineID"),
		Status:     domain.RunStatus(r.URL.Query().Get("status")),
		Page:       page,
	}
	runs, total, err := h.pipelines.ListRuns(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(runs, page, total))
}

func (h *APIHandler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.pipelines.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type deliveryFailureRequest struct {
	Message string `json:"message"`
}

func (h *APIHandler) reportDeliveryFailure(w http.ResponseWriter, r *http.Request) {
	var req deliveryFailureRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	runID := chi.URLParam(r, "runID")
	if err := h.pipelines.ReportDeliveryFailure(r.Context(), runID, req.Message); err != nil {
		h.writeError(w, r, err)
		return
	}
	run, err := h.pipelines.GetRun(r.Context(), runID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
