// Package plan computes and stores the load order of a migration.
//
// A Plan is an ordered list of stages. Each stage holds entities that do not
// depend on each other and can be loaded together once every earlier stage is
// loaded. The plan carries diagnostics about the cycles found in the entity
// graph and the references that were broken to order them.
//
//	p, err := plan.Build(g, false)
//	if porter.IsCyclicDependency(err) {
//	    // re-run with cycle breaking, or fix the schema
//	}
//	for i, stage := range p.Stages {
//	    fmt.Println(i, stage)
//	}
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/syssam/porter"
	"github.com/syssam/porter/graph"
)

type (
	// Plan is the ordered sequence of stages plus cycle diagnostics.
	// Plans are read-only once built.
	Plan struct {
		Stages      []Stage     `json:"stages" yaml:"stages"`
		Diagnostics Diagnostics `json:"diagnostics" yaml:"diagnostics"`
	}

	// Stage holds the names of mutually independent entities, sorted.
	Stage []string

	// Diagnostics describes the cycles found while planning and the
	// references ignored to break them.
	Diagnostics struct {
		CyclesDetected [][]string   `json:"cyclesDetected" yaml:"cyclesDetected"`
		EdgesBroken    []BrokenEdge `json:"edgesBroken" yaml:"edgesBroken"`
		Warnings       []string     `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	}

	// BrokenEdge identifies a reference ignored for ordering. Forced edges
	// are required references and need manual follow-up after the load.
	BrokenEdge struct {
		From     string `json:"from" yaml:"from"`
		To       string `json:"to" yaml:"to"`
		Column   string `json:"column" yaml:"column"`
		Nullable bool   `json:"nullable" yaml:"nullable"`
		Forced   bool   `json:"forced" yaml:"forced"`
	}
)

// Entities returns all entity names in load order.
func (p *Plan) Entities() []string {
	var names []string
	for _, s := range p.Stages {
		names = append(names, s...)
	}
	return names
}

// StageOf returns the stage index of the named entity.
func (p *Plan) StageOf(name string) (int, bool) {
	for i, s := range p.Stages {
		if slices.Contains(s, name) {
			return i, true
		}
	}
	return 0, false
}

// IsBroken reports if the reference was broken by the planner.
func (p *Plan) IsBroken(r *graph.Reference) bool {
	return slices.ContainsFunc(p.Diagnostics.EdgesBroken, func(e BrokenEdge) bool {
		return e.matches(r)
	})
}

// Forced returns the broken edges that were required references.
func (p *Plan) Forced() []BrokenEdge {
	var forced []BrokenEdge
	for _, e := range p.Diagnostics.EdgesBroken {
		if e.Forced {
			forced = append(forced, e)
		}
	}
	return forced
}

// Hash returns a stable digest of the plan, used to bind run checkpoints to
// the plan they were produced from.
func (p *Plan) Hash() string {
	c := Plan{Stages: p.Stages, Diagnostics: p.Diagnostics}
	if c.Stages == nil {
		c.Stages = []Stage{}
	}
	if c.Diagnostics.CyclesDetected == nil {
		c.Diagnostics.CyclesDetected = [][]string{}
	}
	if c.Diagnostics.EdgesBroken == nil {
		c.Diagnostics.EdgesBroken = []BrokenEdge{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		// Plans hold strings and booleans only.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (e BrokenEdge) matches(r *graph.Reference) bool {
	return e.From == r.From && e.To == r.Target && e.Column == r.Column
}

// String returns a readable form of the edge.
func (e BrokenEdge) String() string {
	kind := "nullable"
	if e.Forced {
		kind = "forced"
	}
	return fmt.Sprintf("%s.%s -> %s (%s)", e.From, e.Column, e.To, kind)
}

// Validate checks that the plan can be executed against the given graph:
// every entity appears exactly once, broken edges name existing references,
// and no unbroken reference targets an entity of a later stage.
func (p *Plan) Validate(g *graph.Graph) error {
	if len(p.Stages) == 0 && g.Len() > 0 {
		return porter.NewPlanMismatchError("", "plan has no stages")
	}
	stageOf := make(map[string]int, g.Len())
	for i, s := range p.Stages {
		if len(s) == 0 {
			return porter.NewPlanMismatchError("", fmt.Sprintf("stage %d is empty", i+1))
		}
		for _, name := range s {
			if _, ok := g.Entity(name); !ok {
				return porter.NewPlanMismatchError(name, "entity is not defined")
			}
			if _, ok := stageOf[name]; ok {
				return porter.NewPlanMismatchError(name, "entity is listed more than once")
			}
			stageOf[name] = i
		}
	}
	for _, e := range g.Entities() {
		if _, ok := stageOf[e.Name]; !ok {
			return porter.NewPlanMismatchError(e.Name, "entity is missing from the plan")
		}
	}
	for _, b := range p.Diagnostics.EdgesBroken {
		if !slices.ContainsFunc(g.ReferencesOf(b.From), b.matches) {
			return porter.NewPlanMismatchError(b.From, fmt.Sprintf("broken edge %s does not exist", b))
		}
	}
	for _, e := range g.Entities() {
		for _, r := range e.References {
			if r.Self || p.IsBroken(r) {
				continue
			}
			if stageOf[r.Target] > stageOf[e.Name] {
				return porter.NewPlanMismatchError(e.Name, fmt.Sprintf(
					"reference %s is loaded before its target (stage %d < %d)",
					r, stageOf[e.Name]+1, stageOf[r.Target]+1,
				))
			}
		}
	}
	return nil
}
