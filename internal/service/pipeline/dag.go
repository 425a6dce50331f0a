// Package pipeline validates and executes step pipelines and records their runs.
package pipeline

import (
	"slices"

	"duck-bi/internal/domain"
)

// ResolveExecutionOrder computes dependency levels of planned steps using
// Kahn's algorithm. Each level lists step orders, ascending, whose inputs are
// produced by earlier levels; steps within a level can execute in parallel.
// Returns an error if cycles or unknown aliases exist.
func ResolveExecutionOrder(steps []PlannedStep) ([][]int, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	// Build alias → step order mapping and adjacency.
	producer := make(map[string]int, len(steps))
	inDegree := make(map[int]int, len(steps))
	dependents := make(map[int][]int) // producer order → orders consuming it

	for _, s := range steps {
		producer[s.Alias] = s.Step.Order
		inDegree[s.Step.Order] = 0
	}

	for _, s := range steps {
		seen := make(map[int]bool, len(s.Inputs))
		for _, in := range s.Inputs {
			dep, ok := producer[in]
			if !ok {
				return nil, domain.ErrValidation("unknown input alias: %s", in)
			}
			if dep == s.Step.Order {
				return nil, domain.ErrValidation("step %d consumes its own output", dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			dependents[dep] = append(dependents[dep], s.Step.Order)
			inDegree[s.Step.Order]++
		}
	}

	// Kahn's algorithm, one level at a time.
	var levels [][]int
	var queue []int
	for order, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, order)
		}
	}

	processed := 0
	for len(queue) > 0 {
		slices.Sort(queue)
		level := slices.Clone(queue)
		levels = append(levels, level)
		processed += len(level)

		var next []int
		for _, order := range queue {
			for _, dep := range dependents[order] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(steps) {
		return nil, domain.ErrValidation("cycle detected in step inputs")
	}
	return levels, nil
}
