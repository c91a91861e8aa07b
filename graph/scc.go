package graph

import (
	"cmp"
	"slices"
)

// Component is a strongly-connected set of two or more entities.
type Component struct {
	// Entities holds the member names sorted lexically.
	Entities []string
	// References holds the non-self references between members, ordered by
	// dependent name and declaration position.
	References []*Reference
}

// Contains reports if the named entity is a member of the component.
func (c *Component) Contains(name string) bool {
	_, ok := slices.BinarySearch(c.Entities, name)
	return ok
}

// FindCycles returns the cyclic components of the graph. Self-references
// never form a cycle.
func FindCycles(g *Graph) []*Component {
	return FindCyclesFunc(g, nil)
}

// FindCyclesFunc is like FindCycles, but only follows the non-self
// references accepted by keep. A nil keep accepts every reference.
func FindCyclesFunc(g *Graph, keep func(*Reference) bool) []*Component {
	t := &tarjan{
		g:     g,
		keep:  keep,
		index: make(map[string]int, g.Len()),
		low:   make(map[string]int, g.Len()),
		on:    make(map[string]bool, g.Len()),
	}
	for _, name := range g.Names() {
		if _, ok := t.index[name]; !ok {
			t.connect(name)
		}
	}
	slices.SortFunc(t.comps, func(a, b *Component) int {
		return cmp.Compare(a.Entities[0], b.Entities[0])
	})
	return t.comps
}

type tarjan struct {
	g     *Graph
	keep  func(*Reference) bool
	next  int
	index map[string]int
	low   map[string]int
	on    map[string]bool
	stack []string
	comps []*Component
}

func (t *tarjan) follow(r *Reference) bool {
	return !r.Self && (t.keep == nil || t.keep(r))
}

func (t *tarjan) connect(v string) {
	t.index[v] = t.next
	t.low[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.on[v] = true
	e, _ := t.g.Entity(v)
	for _, r := range e.References {
		if !t.follow(r) {
			continue
		}
		w := r.Target
		switch _, seen := t.index[w]; {
		case !seen:
			t.connect(w)
			t.low[v] = min(t.low[v], t.low[w])
		case t.on[w]:
			t.low[v] = min(t.low[v], t.index[w])
		}
	}
	if t.low[v] != t.index[v] {
		return
	}
	var members []string
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.on[w] = false
		members = append(members, w)
		if w == v {
			break
		}
	}
	if len(members) < 2 {
		return
	}
	slices.Sort(members)
	c := &Component{Entities: members}
	for _, name := range members {
		e, _ := t.g.Entity(name)
		for _, r := range e.References {
			if t.follow(r) && c.Contains(r.Target) {
				c.References = append(c.References, r)
			}
		}
	}
	t.comps = append(t.comps, c)
}
