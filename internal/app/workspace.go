package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"duck-bi/internal/domain"
)

// Workspace is an importable bundle of data sources, entities and pipelines.
type Workspace struct {
	DataSources []workspaceDataSource `json:"data_sources"`
	Entities    []workspaceEntity     `json:"entities"`
	Pipelines   []workspacePipeline   `json:"pipelines"`
}

type workspaceDataSource struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Type        domain.DataSourceType   `json:"type"`
	Description string                  `json:"description"`
	Config      domain.DataSourceConfig `json:"config"`
	Tables      []domain.TableSchema    `json:"tables"`
}

type workspaceEntity struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	DataSourceID string             `json:"data_source_id"`
	PrimaryTable string             `json:"primary_table"`
	Dimensions   []domain.Dimension `json:"dimensions"`
	Measures     []domain.Measure   `json:"measures"`
}

type workspacePipeline struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	ScheduleCron string        `json:"schedule_cron"`
	Steps        []domain.Step `json:"steps"`
}

// ParseWorkspace decodes a YAML (or JSON) workspace document. The document is
// normalized to JSON first so step configs go through the same strict
// decoding as API payloads.
func ParseWorkspace(r io.Reader) (*Workspace, error) {
	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &Workspace{}, nil
		}
		return nil, domain.ErrValidation("invalid workspace: %v", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, domain.ErrValidation("invalid workspace: %v", err)
	}
	var ws Workspace
	if err := json.Unmarshal(raw, &ws); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, domain.ErrValidation("invalid workspace: %v", err)
	}
	return &ws, nil
}

// ImportSummary reports what an import created and skipped.
type ImportSummary struct {
	Created  int      `json:"created"`
	Skipped  []string `json:"skipped"`  // ids that already existed
	Problems []string `json:"problems"` // validation findings of imported pipelines
}

// Import stores every object of ws. Objects whose id already exists are
// skipped, which makes importing the same workspace twice a no-op. Data
// sources declared without tables have their schema introspected. Imported
// pipelines are validated and their findings reported without failing the
// import.
func (a *App) Import(ctx context.Context, ws *Workspace) (*ImportSummary, error) {
	sum := &ImportSummary{}
	created := func(kind, id string, err error) error {
		var conflict *domain.ConflictError
		switch {
		case err == nil:
			sum.Created++
			return nil
		case errors.As(err, &conflict):
			sum.Skipped = append(sum.Skipped, kind+" "+id)
			return nil
		default:
			return fmt.Errorf("import %s %q: %w", kind, id, err)
		}
	}

	for _, ds := range ws.DataSources {
		stored, err := a.Repos.DataSources.CreateDataSource(ctx, &domain.CreateDataSourceRequest{
			ID: ds.ID, Name: ds.Name, Type: ds.Type, Description: ds.Description,
			Config: ds.Config, Tables: ds.Tables,
		})
		if err := created("data source", ds.ID, err); err != nil {
			return nil, err
		}
		if stored == nil || len(stored.Tables) > 0 {
			continue
		}
		// Sources imported without tables are introspected so pipelines
		// reading them get static column checks.
		if _, err := a.Services.Catalog.RefreshSchema(ctx, stored.ID); err != nil {
			a.logger.WarnContext(ctx, "schema refresh failed", "data_source_id", stored.ID, "error", err)
			sum.Problems = append(sum.Problems, fmt.Sprintf("data source %s: refresh schema: %v", stored.ID, err))
		}
	}
	for _, e := range ws.Entities {
		_, err := a.Services.Semantic.CreateEntity(ctx, domain.CreateEntityRequest{
			ID: e.ID, Name: e.Name, Description: e.Description,
			DataSourceID: e.DataSourceID, PrimaryTable: e.PrimaryTable,
			Dimensions: e.Dimensions, Measures: e.Measures,
		})
		if err := created("entity", e.ID, err); err != nil {
			return nil, err
		}
	}
	for _, p := range ws.Pipelines {
		def, err := a.Repos.Pipelines.CreatePipeline(ctx, &domain.CreatePipelineRequest{
			ID: p.ID, Name: p.Name, Description: p.Description,
			Steps: p.Steps, ScheduleCron: p.ScheduleCron,
		})
		if err := created("pipeline", p.ID, err); err != nil {
			return nil, err
		}
		if def == nil {
			continue
		}
		report, err := a.Services.Pipelines.Validate(ctx, def.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range report.Errors {
			sum.Problems = append(sum.Problems, fmt.Sprintf("pipeline %s: %s", def.ID, e))
		}
	}
	a.logger.Info("workspace imported", "created", sum.Created, "skipped", len(sum.Skipped))
	return sum, nil
}
