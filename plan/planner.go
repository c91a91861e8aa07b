package plan

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/syssam/porter"
	"github.com/syssam/porter/graph"
)

// Build computes the layered load order of the graph.
//
// Without ignoreCycles, Build fails with a CyclicDependencyError listing every
// strongly-connected component of two or more entities. With ignoreCycles,
// Build breaks one reference per blocking component whenever layering gets
// stuck, preferring nullable references, and records every broken reference
// in the plan diagnostics. The result depends only on the graph and the flag.
func Build(g *graph.Graph, ignoreCycles bool) (*Plan, error) {
	comps := graph.FindCycles(g)
	cycles := make([][]string, 0, len(comps))
	for _, c := range comps {
		cycles = append(cycles, slices.Clone(c.Entities))
	}
	if len(cycles) > 0 && !ignoreCycles {
		return nil, &porter.CyclicDependencyError{Components: cycles}
	}
	p := &Plan{
		Stages: []Stage{},
		Diagnostics: Diagnostics{
			CyclesDetected: cycles,
			EdgesBroken:    []BrokenEdge{},
		},
	}
	l := newLayering(g)
	for l.remaining() > 0 {
		if stage := l.next(); len(stage) > 0 {
			p.Stages = append(p.Stages, stage)
			continue
		}
		stuck := graph.FindCyclesFunc(g, l.active)
		if len(stuck) == 0 {
			// Unreachable for graphs built with graph.New.
			return nil, fmt.Errorf("plan: layering stalled with %d entities left", l.remaining())
		}
		for _, c := range stuck {
			r := l.choose(c)
			l.cut(r)
			edge := BrokenEdge{From: r.From, To: r.Target, Column: r.Column, Nullable: r.Nullable, Forced: !r.Nullable}
			p.Diagnostics.EdgesBroken = append(p.Diagnostics.EdgesBroken, edge)
			if edge.Forced {
				p.Diagnostics.Warnings = append(p.Diagnostics.Warnings,
					fmt.Sprintf("required reference %s was broken; rows may need manual follow-up", edge))
			}
		}
	}
	return p, nil
}

// layering holds the state of Kahn's algorithm. The in-degree of an entity is
// the number of its non-self, unbroken references whose target is not placed
// yet.
type layering struct {
	g       *graph.Graph
	placed  map[string]bool
	indeg   map[string]int
	broken  map[*graph.Reference]bool
	pending []string
}

func newLayering(g *graph.Graph) *layering {
	l := &layering{
		g:       g,
		placed:  make(map[string]bool, g.Len()),
		indeg:   make(map[string]int, g.Len()),
		broken:  make(map[*graph.Reference]bool),
		pending: g.Names(),
	}
	for _, e := range g.Entities() {
		for _, r := range e.References {
			if !r.Self {
				l.indeg[e.Name]++
			}
		}
	}
	return l
}

func (l *layering) remaining() int { return len(l.pending) }

// next removes and returns all pending entities with no unplaced
// dependencies, sorted by name.
func (l *layering) next() Stage {
	var stage Stage
	l.pending = slices.DeleteFunc(l.pending, func(name string) bool {
		if l.indeg[name] == 0 {
			stage = append(stage, name)
			return true
		}
		return false
	})
	for _, name := range stage {
		l.placed[name] = true
	}
	for _, name := range stage {
		for _, r := range l.g.DependentsOf(name) {
			if !r.Self && !l.broken[r] {
				l.indeg[r.From]--
			}
		}
	}
	return stage
}

// active reports if the reference still blocks layering.
func (l *layering) active(r *graph.Reference) bool {
	return !l.broken[r] && !l.placed[r.From] && !l.placed[r.Target]
}

// choose selects the reference to break in a blocking component. Nullable
// references come first, the one whose dependent has the fewest unresolved
// references wins. Without nullable candidates, the first reference in
// (entity name, declaration) order is taken.
func (l *layering) choose(c *graph.Component) *graph.Reference {
	var nullable []*graph.Reference
	for _, r := range c.References {
		if r.Nullable {
			nullable = append(nullable, r)
		}
	}
	if len(nullable) == 0 {
		return c.References[0]
	}
	return slices.MinFunc(nullable, func(a, b *graph.Reference) int {
		return cmp.Or(
			cmp.Compare(l.indeg[a.From], l.indeg[b.From]),
			cmp.Compare(a.From, b.From),
			cmp.Compare(a.Index(), b.Index()),
		)
	})
}

// cut breaks the reference and releases its dependent.
func (l *layering) cut(r *graph.Reference) {
	l.broken[r] = true
	if !l.placed[r.Target] {
		l.indeg[r.From]--
	}
}
