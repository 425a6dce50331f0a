package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"duck-bi/internal/domain"
)

// PlannedStep is a step with its aliases resolved.
type PlannedStep struct {
	Step  domain.Step
	Alias string
	// Inputs lists consumed aliases in config order: the single input, the
	// left and right join sides, or the union sources.
	Inputs []string
}

// Plan is the resolved execution plan of a valid pipeline.
type Plan struct {
	Steps []PlannedStep // ascending order; Steps[i].Step.Order == i
	// Levels groups step orders whose inputs are all produced by earlier
	// levels. Steps of one level may run concurrently.
	Levels [][]int
	// Output is the alias of the highest-order step, the run's result.
	Output string
}

// Validator checks a pipeline's step graph before execution.
type Validator struct {
	sources domain.DataSourceRepository
}

// NewValidator creates a Validator resolving data sources from sources.
func NewValidator(sources domain.DataSourceRepository) *Validator {
	return &Validator{sources: sources}
}

// columnInfo is the statically known schema of an alias; nil means unknown.
type columnInfo map[string]domain.ColumnKind

// Validate checks p without modifying it. The plan is nil unless the report is
// valid. The error is reserved for catalog failures other than a missing data
// source.
func (v *Validator) Validate(ctx context.Context, p *domain.PipelineDefinition) (*Plan, *domain.ValidationReport, error) {
	report := &domain.ValidationReport{Errors: []string{}, Warnings: []string{}}
	fail := func(format string, args ...any) {
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		report.Warnings = append(report.Warnings, fmt.Sprintf(format, args...))
	}

	steps := p.SortedSteps()
	if len(steps) == 0 {
		fail("pipeline has no steps")
		return nil, report, nil
	}

	ordersOK := true
	for i, s := range steps {
		if i > 0 && steps[i-1].Order == s.Order {
			fail("duplicate step order %d", s.Order)
			ordersOK = false
		}
	}
	if ordersOK {
		for i, s := range steps {
			if s.Order != i {
				fail("step orders must be 0..%d without gaps: expected order %d, found %d", len(steps)-1, i, s.Order)
				ordersOK = false
				break
			}
		}
	}
	if steps[0].Type != domain.StepSource {
		fail("first step (order %d) must be a source step, got %q", steps[0].Order, steps[0].Type)
	}

	for _, s := range steps {
		if s.Config == nil {
			fail("step %d (%s): config is required", s.Order, s.DisplayName())
			continue
		}
		if s.Config.StepType() != s.Type {
			fail("step %d (%s): config is for %q, step type is %q", s.Order, s.DisplayName(), s.Config.StepType(), s.Type)
			continue
		}
		for _, problem := range s.Config.Problems() {
			fail("step %d (%s): %s", s.Order, s.DisplayName(), problem)
		}
	}
	if !ordersOK || len(report.Errors) > 0 {
		return nil, report, nil
	}

	plan := &Plan{Steps: make([]PlannedStep, len(steps))}
	producedBy := make(map[string]int, len(steps))
	schemas := make(map[string]columnInfo, len(steps))
	consumed := make(map[string]bool, len(steps))

	for i, s := range steps {
		alias := s.OutputAlias
		if alias == "" {
			alias = fmt.Sprintf("step_%d", s.Order)
		}
		prev := ""
		if i > 0 {
			prev = plan.Steps[i-1].Alias
		}

		resolve := func(ref string) string {
			if ref == "" || ref == domain.PreviousAlias {
				return prev
			}
			return ref
		}
		var inputs []string
		switch c := s.Config.(type) {
		case *domain.SourceConfig:
		case *domain.JoinConfig:
			inputs = []string{resolve(c.LeftSource), c.RightSource}
		case *domain.UnionConfig:
			inputs = slices.Clone(c.Sources)
		default:
			inputs = []string{resolve(domain.InputOf(c))}
		}

		for _, in := range inputs {
			if in == "" {
				fail("step %d (%s): no input; a step at order 0 cannot consume a previous step", s.Order, s.DisplayName())
				continue
			}
			if _, ok := producedBy[in]; !ok {
				fail("step %d (%s): alias %q not found; it must be the output of an earlier step", s.Order, s.DisplayName(), in)
				continue
			}
			consumed[in] = true
		}
		if by, dup := producedBy[alias]; dup {
			fail("step %d (%s): output alias %q is already produced by step %d", s.Order, s.DisplayName(), alias, by)
		}
		producedBy[alias] = s.Order
		plan.Steps[i] = PlannedStep{Step: s, Alias: alias, Inputs: inputs}

		info, err := v.inferSchema(ctx, s, inputs, schemas, fail, warn)
		if err != nil {
			return nil, nil, err
		}
		schemas[alias] = info
	}

	plan.Output = plan.Steps[len(steps)-1].Alias
	for _, ps := range plan.Steps[:len(steps)-1] {
		if !consumed[ps.Alias] {
			warn("step %d (%s): output %q is never used", ps.Step.Order, ps.Step.DisplayName(), ps.Alias)
		}
	}

	if len(report.Errors) > 0 {
		return nil, report, nil
	}
	levels, err := ResolveExecutionOrder(plan.Steps)
	if err != nil {
		fail("%v", err)
		return nil, report, nil
	}
	plan.Levels = levels
	report.Valid = true
	return plan, report, nil
}

// inferSchema resolves data sources and propagates statically known column
// kinds, reporting operators that cannot apply to a known column type.
func (v *Validator) inferSchema(ctx context.Context, s domain.Step, inputs []string, schemas map[string]columnInfo,
	fail, warn func(string, ...any)) (columnInfo, error) {

	input := func(i int) columnInfo {
		if i < len(inputs) {
			return schemas[inputs[i]]
		}
		return nil
	}
	missing := func(col string) {
		warn("step %d (%s): column %q is not in the known schema of its input", s.Order, s.DisplayName(), col)
	}

	switch c := s.Config.(type) {
	case *domain.SourceConfig:
		ds, err := v.sources.ResolveDataSource(ctx, c.DataSourceID)
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				fail("step %d (%s): data source %q not found", s.Order, s.DisplayName(), c.DataSourceID)
				return nil, nil
			}
			return nil, fmt.Errorf("resolve data source %s: %w", c.DataSourceID, err)
		}
		t, ok := ds.Table(c.SchemaName, c.TableName)
		if !ok {
			if len(ds.Tables) > 0 && !ds.Type.IsFile() {
				warn("step %d (%s): table %q is not in the cached schema of data source %q", s.Order, s.DisplayName(), c.TableName, ds.Name)
			}
			return nil, nil
		}
		all := make(columnInfo, len(t.Columns))
		for _, col := range t.Columns {
			all[col.Name] = domain.KindOf(col.Type)
		}
		if len(c.Columns) == 0 {
			return all, nil
		}
		info := make(columnInfo, len(c.Columns))
		for _, col := range c.Columns {
			k, ok := all[col]
			if !ok {
				missing(col)
			}
			info[col] = k
		}
		return info, nil

	case *domain.FilterConfig:
		in := input(0)
		if in == nil {
			return nil, nil
		}
		for _, cond := range c.Conditions {
			k, ok := in[cond.Column]
			if !ok {
				missing(cond.Column)
				continue
			}
			if !domain.OperatorAllowed(cond.Operator, k) {
				fail("step %d (%s): operator %q is not valid for %s column %q", s.Order, s.DisplayName(), cond.Operator, k, cond.Column)
			}
		}
		return in, nil

	case *domain.SelectConfig:
		in := input(0)
		if in == nil {
			return nil, nil
		}
		out := make(columnInfo, len(c.Columns))
		for _, col := range c.Columns {
			k, ok := in[col]
			if !ok {
				missing(col)
			}
			name := col
			if to := c.Rename[col]; to != "" {
				name = to
			}
			out[name] = k
		}
		return out, nil

	case *domain.SortConfig:
		in := input(0)
		if in == nil {
			return nil, nil
		}
		for _, col := range c.Columns {
			if _, ok := in[col]; !ok {
				missing(col)
			}
		}
		return in, nil

	case *domain.AggregateConfig:
		in := input(0)
		if in == nil {
			return nil, nil
		}
		out := make(columnInfo, len(c.GroupBy)+len(c.Aggregations))
		for _, g := range c.GroupBy {
			k, ok := in[g]
			if !ok {
				missing(g)
			}
			out[g] = k
		}
		for _, a := range c.Aggregations {
			k, ok := in[a.Column]
			if !ok {
				missing(a.Column)
			}
			switch a.Function {
			case domain.AggMin, domain.AggMax:
				out[a.OutputName()] = k
			case domain.AggCount:
				out[a.OutputName()] = domain.KindNumeric
			default:
				if ok && k != domain.KindUnknown && k != domain.KindNumeric {
					fail("step %d (%s): %s requires a numeric column, %q is %s", s.Order, s.DisplayName(), a.Function, a.Column, k)
				}
				out[a.OutputName()] = domain.KindNumeric
			}
		}
		return out, nil

	case *domain.UnionConfig:
		first := input(0)
		if first == nil {
			return nil, nil
		}
		for i := 1; i < len(inputs); i++ {
			other := input(i)
			if other != nil && !sameColumns(first, other) {
				fail("step %d (%s): union inputs %q and %q have different columns", s.Order, s.DisplayName(), inputs[0], inputs[i])
			}
		}
		return first, nil
	}
	// Joins: output columns depend on collisions; inference stops here.
	return nil, nil
}

func sameColumns(a, b columnInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// describe renders a plan for logs.
func (p *Plan) describe() string {
	parts := make([]string, len(p.Levels))
	for i, level := range p.Levels {
		names := make([]string, len(level))
		for j, order := range level {
			names[j] = p.Steps[order].Alias
		}
		parts[i] = "[" + strings.Join(names, ",") + "]"
	}
	return strings.Join(parts, " -> ")
}
