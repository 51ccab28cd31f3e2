package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/lucasnoah/rita/internal/errors"
)

// Action is the side-effecting body of a stage.
type Action func(ctx context.Context) error

// Stage is a named unit of work and the stages that must run before it.
// A Tolerant stage's failure is recorded and the run continues.
type Stage struct {
	Name        string
	After       []string
	Description string
	Tolerant    bool
	Action      Action
}

// Builder collects stage declarations. Nothing is validated until Build.
type Builder struct {
	stages []Stage
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Register adds a stage. Registration order breaks ties in the execution order.
func (b *Builder) Register(s Stage) *Builder {
	b.stages = append(b.stages, s)
	return b
}

// Build validates the declarations and returns an immutable Graph.
// Duplicate names, dangling predecessors and cycles are configuration errors.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		stages: make([]Stage, len(b.stages)),
		index:  make(map[string]int, len(b.stages)),
	}
	copy(g.stages, b.stages)

	for i, s := range g.stages {
		if s.Name == "" {
			return nil, apperrors.Configuration("stage #%d has no name", i)
		}
		if s.Action == nil {
			return nil, apperrors.Configuration("stage %q has no action", s.Name)
		}
		if _, dup := g.index[s.Name]; dup {
			return nil, apperrors.Configuration("duplicate stage %q", s.Name)
		}
		g.index[s.Name] = i
	}

	g.preds = make([][]int, len(g.stages))
	for i, s := range g.stages {
		for _, dep := range s.After {
			j, ok := g.index[dep]
			if !ok {
				return nil, apperrors.Configuration("stage %q depends on undeclared stage %q", s.Name, dep)
			}
			g.preds[i] = append(g.preds[i], j)
		}
	}

	all := make([]int, len(g.stages))
	for i := range all {
		all[i] = i
	}
	order, err := g.topoSort(all)
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// Graph is a validated, acyclic set of stages.
type Graph struct {
	stages []Stage
	index  map[string]int
	preds  [][]int
	order  []int
}

// Stages returns the stages in registration order.
func (g *Graph) Stages() []Stage {
	out := make([]Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

// Stage looks up a stage by name.
func (g *Graph) Stage(name string) (Stage, bool) {
	i, ok := g.index[name]
	if !ok {
		return Stage{}, false
	}
	return g.stages[i], true
}

// Order returns every stage name in execution order.
func (g *Graph) Order() []string {
	names := make([]string, len(g.order))
	for k, i := range g.order {
		names[k] = g.stages[i].Name
	}
	return names
}

// Resolve returns terminal and its transitive predecessors in execution order.
func (g *Graph) Resolve(terminal string) ([]Stage, error) {
	t, ok := g.index[terminal]
	if !ok {
		return nil, apperrors.Configuration("unknown stage %q", terminal)
	}

	inClosure := make(map[int]bool)
	stack := []int{t}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if inClosure[i] {
			continue
		}
		inClosure[i] = true
		stack = append(stack, g.preds[i]...)
	}

	closure := make([]int, 0, len(inClosure))
	for i := range inClosure {
		closure = append(closure, i)
	}
	sort.Ints(closure)

	order, err := g.topoSort(closure)
	if err != nil {
		return nil, err
	}
	out := make([]Stage, len(order))
	for k, i := range order {
		out[k] = g.stages[i]
	}
	return out, nil
}

// topoSort orders nodes with Kahn's algorithm. Among ready nodes the one
// registered first goes first, so the order is the same on every run.
// nodes must be closed under predecessors.
func (g *Graph) topoSort(nodes []int) ([]int, error) {
	member := make(map[int]bool, len(nodes))
	for _, i := range nodes {
		member[i] = true
	}

	inDegree := make(map[int]int, len(nodes))
	dependents := make(map[int][]int)
	for _, i := range nodes {
		for _, p := range g.preds[i] {
			if !member[p] {
				continue
			}
			inDegree[i]++
			dependents[p] = append(dependents[p], i)
		}
	}

	var ready []int
	for _, i := range nodes {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, len(nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, d := range dependents[next] {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(nodes) {
		var stuck []string
		for _, i := range nodes {
			if inDegree[i] > 0 {
				stuck = append(stuck, g.stages[i].Name)
			}
		}
		return nil, apperrors.Configuration("cycle detected among stages: %s", strings.Join(stuck, ", "))
	}
	return order, nil
}

// Describe renders "name <- pred, pred" lines in registration order.
func (g *Graph) Describe() []string {
	lines := make([]string, len(g.stages))
	for i, s := range g.stages {
		if len(s.After) == 0 {
			lines[i] = s.Name
			continue
		}
		lines[i] = fmt.Sprintf("%s <- %s", s.Name, strings.Join(s.After, ", "))
	}
	return lines
}
