// Package api provides HTTP handlers for the pipeline and semantic query REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"duck-bi/internal/domain"
)

// PipelineService is the pipeline surface the API exposes.
type PipelineService interface {
	Validate(ctx context.Context, pipelineID string) (*domain.ValidationReport, error)
	ExecutePipeline(ctx context.Context, pipelineID string, opts domain.ExecuteOptions) (*domain.ExecutionResult, error)
	SubmitPipeline(ctx context.Context, pipelineID string, opts domain.ExecuteOptions) (*domain.PipelineRun, error)
	ReportDeliveryFailure(ctx context.Context, runID, message string) error
	GetRun(ctx context.Context, runID string) (*domain.PipelineRun, error)
	ListRuns(ctx context.Context, filter domain.PipelineRunFilter) ([]domain.PipelineRun, int64, error)
}

// SemanticService is the semantic query surface the API exposes.
type SemanticService interface {
	ExecuteQuery(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error)
	ExplainQuery(ctx context.Context, req domain.QueryRequest) (*domain.ExplainResponse, error)
	ListHistory(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error)
}

// CatalogService is the data source metadata surface the API exposes.
type CatalogService interface {
	RefreshSchema(ctx context.Context, dataSourceID string) (*domain.DataSource, error)
}

// APIHandler serves the REST API.
type APIHandler struct {
	pipelines PipelineService
	semantic  SemanticService
	catalog   CatalogService
	logger    *slog.Logger
}

// NewHandler creates a new APIHandler.
func NewHandler(pipelines PipelineService, semantic SemanticService, catalog CatalogService, logger *slog.Logger) *APIHandler {
	return &APIHandler{pipelines: pipelines, semantic: semantic, catalog: catalog, logger: logger}
}

// Routes registers every API route on r.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/pipelines/{pipelineID}", func(r chi.Router) {
			r.Post("/validate", h.validatePipeline)
			r.Post("/execute", h.executePipeline)
			r.Post("/runs", h.submitPipeline)
			r.Get("/runs", h.listRuns)
		})
		r.Get("/runs/{runID}", h.getRun)
		r.Post("/runs/{runID}/delivery-failure", h.reportDeliveryFailure)

		r.Post("/data-sources/{dataSourceID}/refresh", h.refreshDataSource)

		r.Post("/query", h.executeQuery)
		r.Post("/query/explain", h.explainQuery)
		r.Get("/query/history", h.listQueryHistory)
	})
}

func (h *APIHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes an optional JSON body into v. Unknown fields are rejected.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// pageFromQuery extracts a PageRequest from max_results/page_token params.
func pageFromQuery(r *http.Request) (domain.PageRequest, error) {
	p := domain.PageRequest{PageToken: r.URL.Query().Get("page_token")}
	if v := r.URL.Query().Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("max_results must be a non-negative integer")
		}
		p.MaxResults = n
	}
	return p, p.Validate()
}

// listResponse is the envelope of paginated list endpoints.
type listResponse[T any] struct {
	Data          []T    `json:"data"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

func newListResponse[T any](items []T, page domain.PageRequest, total int64) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{
		Data:          items,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	}
}
