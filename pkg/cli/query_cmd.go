package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"duck-bi/internal/app"
	"duck-bi/internal/domain"
)

func newQueryCmd(open appOpener) *cobra.Command {
	var (
		entityID   string
		measures   []string
		dimensions []string
		filters    []string
		orderBy    []string
		limit      int
		explain    bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a semantic query against an entity",
		Example: `  duckbi query --entity sales --measure total --dimension region
  duckbi query --entity sales --measure total --filter "region in [\"North\",\"East\"]" --order-by total:desc`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := domain.QueryRequest{
				EntityID:     entityID,
				DimensionIDs: dimensions,
				MeasureIDs:   measures,
			}
			for _, f := range filters {
				qf, err := parseFilterFlag(f)
				if err != nil {
					return err
				}
				req.Filters = append(req.Filters, qf)
			}
			for _, o := range orderBy {
				field, dir, _ := strings.Cut(o, ":")
				req.OrderBy = append(req.OrderBy, domain.QueryOrder{
					FieldID:    field,
					Descending: strings.EqualFold(dir, "desc"),
				})
			}
			if cmd.Flags().Changed("limit") {
				req.Limit = &limit
			}

			return withApp(cmd, open, func(ctx context.Context, a *app.App) error {
				if explain {
					resp, err := a.Services.Semantic.ExplainQuery(ctx, req)
					if err != nil {
						return err
					}
					return printResult(cmd, resp, func(w io.Writer) error {
						_, _ = fmt.Fprintln(w, resp.SQL)
						if len(resp.Args) > 0 {
							_, _ = fmt.Fprintf(w, "args: %v\n", resp.Args)
						}
						return nil
					})
				}

				resp, err := a.Services.Semantic.ExecuteQuery(ctx, req)
				if err != nil {
					return err
				}
				return printResult(cmd, resp, func(w io.Writer) error {
					rows := make([][]any, len(resp.Data))
					for i, rec := range resp.Data {
						rows[i] = make([]any, len(resp.Columns))
						for j, c := range resp.Columns {
							rows[i][j] = rec[c]
						}
					}
					printRows(w, resp.Columns, rows)
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVar(&entityID, "entity", "", "Entity id (required)")
	cmd.Flags().StringSliceVar(&measures, "measure", nil, "Measure id (repeatable)")
	cmd.Flags().StringSliceVar(&dimensions, "dimension", nil, "Dimension id (repeatable)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, `Filter "<dimension> <operator> [value]" (repeatable)`)
	cmd.Flags().StringSliceVar(&orderBy, "order-by", nil, "Order by field id, optionally suffixed :desc")
	cmd.Flags().IntVar(&limit, "limit", 0, "Row limit")
	cmd.Flags().BoolVar(&explain, "explain", false, "Print the compiled SQL instead of running it")
	_ = cmd.MarkFlagRequired("entity")

	return cmd
}

// filterOperatorsByLength lists operators so multi-word ones match first.
var filterOperatorsByLength = []domain.FilterOperator{
	domain.OpIsNotNull, domain.OpIsNull, domain.OpNotIn,
	domain.OpStartsWith, domain.OpEndsWith, domain.OpContains,
	domain.OpGreaterEqual, domain.OpLessEqual, domain.OpNotEqual, domain.OpEqual,
	domain.OpIn, domain.OpGreater, domain.OpLess,
}

// parseFilterFlag parses "<dimension> <operator> [value]". The value is read
// as JSON when it parses as JSON (numbers, booleans, lists) and as a plain
// string otherwise. "=" is accepted for "==".
func parseFilterFlag(s string) (domain.QueryFilter, error) {
	dim, rest, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || dim == "" {
		return domain.QueryFilter{}, domain.ErrValidation("filter %q: expected \"<dimension> <operator> [value]\"", s)
	}
	rest = strings.TrimSpace(rest)
	lower := strings.ToLower(rest)

	for _, op := range filterOperatorsByLength {
		tok := string(op)
		if !strings.HasPrefix(lower, tok) {
			continue
		}
		tail := rest[len(tok):]
		if tail != "" && tail[0] != ' ' && isWordOperator(op) {
			continue
		}
		return buildFilter(s, dim, op, strings.TrimSpace(tail))
	}
	if strings.HasPrefix(rest, "=") {
		return buildFilter(s, dim, domain.OpEqual, strings.TrimSpace(rest[1:]))
	}
	return domain.QueryFilter{}, domain.ErrValidation("filter %q: unknown operator", s)
}

func isWordOperator(op domain.FilterOperator) bool {
	c := op[len(op)-1]
	return c >= 'a' && c <= 'z'
}

func buildFilter(raw, dim string, op domain.FilterOperator, value string) (domain.QueryFilter, error) {
	f := domain.QueryFilter{DimensionID: dim, Operator: op}
	if !op.NeedsValue() {
		if value != "" {
			return f, domain.ErrValidation("filter %q: operator %q takes no value", raw, op)
		}
		return f, nil
	}
	if value == "" {
		return f, domain.ErrValidation("filter %q: operator %q requires a value", raw, op)
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	f.Value = v
	return f, nil
}
