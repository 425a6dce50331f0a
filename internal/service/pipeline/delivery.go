package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"duck-bi/internal/domain"
)

// Deliverer hands the result of a scheduled run to its downstream consumer.
type Deliverer interface {
	Deliver(ctx context.Context, p *domain.PipelineDefinition, res *domain.ExecutionResult) error
}

// CSVDeliverer writes run results as CSV files under dir/<pipeline>/<run id>.csv.
type CSVDeliverer struct {
	dir string
}

// NewCSVDeliverer creates a CSVDeliverer writing into dir.
func NewCSVDeliverer(dir string) *CSVDeliverer {
	return &CSVDeliverer{dir: dir}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Path returns the file a run's result is delivered to.
func (d *CSVDeliverer) Path(p *domain.PipelineDefinition, runID string) string {
	name := unsafePathChars.ReplaceAllString(p.Name, "_")
	if name == "" || name == "_" {
		name = p.ID
	}
	return filepath.Join(d.dir, name, runID+".csv")
}

// Deliver implements Deliverer. The file is written to a temporary name and
// renamed so readers never observe a partial file.
func (d *CSVDeliverer) Deliver(ctx context.Context, p *domain.PipelineDefinition, res *domain.ExecutionResult) error {
	if res.Data == nil {
		return fmt.Errorf("run %s produced no data to deliver", res.RunID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := d.Path(p, res.RunID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create delivery dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".delivery-*")
	if err != nil {
		return fmt.Errorf("create delivery file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	w := csv.NewWriter(tmp)
	if err := w.Write(res.Data.Columns); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(res.Data.Columns))
	for _, row := range res.Data.Rows {
		for i, v := range row {
			record[i] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush delivery file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close delivery file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
