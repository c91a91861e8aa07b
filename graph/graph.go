package graph

import (
	"fmt"
	"slices"

	"github.com/syssam/porter"
	"github.com/syssam/porter/schema/field"
)

// The following types describe the entity metadata consumed by the planner
// and the executor.
type (
	// Entity represents one migratable table, its columns and its outgoing
	// foreign-key references.
	Entity struct {
		// Name holds the unique, stable name of the entity (e.g. "auth.User").
		Name string `json:"name" yaml:"name"`
		// Table is the table name on both engines. Defaults to Name.
		Table string `json:"table,omitempty" yaml:"table,omitempty"`
		// PrimaryKey lists the primary-key columns in key order.
		PrimaryKey []string `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
		// Columns holds the column descriptors in table order.
		Columns []*Column `json:"columns,omitempty" yaml:"columns,omitempty"`
		// References holds the outgoing foreign keys in declaration order.
		References []*Reference `json:"foreign_keys,omitempty" yaml:"foreign_keys,omitempty"`

		columns map[string]*Column
	}

	// Column describes one column of an entity.
	Column struct {
		Name     string     `json:"name" yaml:"name"`
		Type     field.Type `json:"type" yaml:"type"`
		Nullable bool       `json:"nullable,omitempty" yaml:"nullable,omitempty"`
		// AutoNow marks timestamp columns that an application or an engine
		// rewrites on every write. Their values are carried explicitly.
		AutoNow bool `json:"auto_now,omitempty" yaml:"auto_now,omitempty"`
	}

	// Reference is a directed foreign-key edge from the declaring entity (the
	// dependent) to its Target (the referenced entity).
	Reference struct {
		// Column is the foreign-key column on the dependent entity.
		Column string `json:"column" yaml:"column"`
		// Target is the name of the referenced entity.
		Target string `json:"target" yaml:"target"`
		// TargetColumn is the referenced column. Defaults to the single
		// primary-key column of Target.
		TargetColumn string `json:"target_column,omitempty" yaml:"target_column,omitempty"`
		// Nullable reports if Column accepts NULL. When the column is declared
		// on the entity, its nullability wins.
		Nullable bool `json:"nullable,omitempty" yaml:"nullable,omitempty"`
		// Self reports if the reference targets its own entity.
		Self bool `json:"self,omitempty" yaml:"self,omitempty"`

		// From holds the name of the declaring entity. Set by New.
		From string `json:"-" yaml:"-"`
		// index is the declaration position on the From entity.
		index int
	}
)

// TableName returns the table of the entity.
func (e *Entity) TableName() string {
	if e.Table != "" {
		return e.Table
	}
	return e.Name
}

// Column returns the column with the given name.
func (e *Entity) Column(name string) (*Column, bool) {
	if e.columns != nil {
		c, ok := e.columns[name]
		return c, ok
	}
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ColumnNames returns the names of all columns in table order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyColumn returns the primary-key column if the entity has a single-column
// primary key.
func (e *Entity) KeyColumn() (*Column, bool) {
	if len(e.PrimaryKey) != 1 {
		return nil, false
	}
	return e.Column(e.PrimaryKey[0])
}

// HasIntegerKey reports if the entity has a single integer primary key, the
// only kind of key backed by a sequence generator.
func (e *Entity) HasIntegerKey() bool {
	c, ok := e.KeyColumn()
	return ok && c.Type.Integer()
}

// KeyIndexes returns the positions of the primary-key columns in Columns.
func (e *Entity) KeyIndexes() []int {
	idx := make([]int, 0, len(e.PrimaryKey))
	for _, pk := range e.PrimaryKey {
		idx = append(idx, slices.IndexFunc(e.Columns, func(c *Column) bool { return c.Name == pk }))
	}
	return idx
}

// String returns a readable form of the reference, e.g. "Post.author_id -> User".
func (r *Reference) String() string {
	return fmt.Sprintf("%s.%s -> %s", r.From, r.Column, r.Target)
}

// Index returns the declaration position of the reference on its entity.
func (r *Reference) Index() int { return r.index }

// Graph holds all entities and the references between them.
type Graph struct {
	entities   []*Entity
	byName     map[string]*Entity
	dependents map[string][]*Reference
}

// New builds a graph from the given entities. It takes ownership of the
// entities; they must not be modified afterwards. New fails with a
// GraphConstructionError if an entity is unnamed or duplicated, or if a
// reference is malformed or targets an unknown entity.
func New(entities ...*Entity) (*Graph, error) {
	g := &Graph{
		entities:   entities,
		byName:     make(map[string]*Entity, len(entities)),
		dependents: make(map[string][]*Reference),
	}
	for _, e := range entities {
		if e == nil || e.Name == "" {
			return nil, porter.NewGraphConstructionError("", "", "entity name cannot be empty")
		}
		if _, ok := g.byName[e.Name]; ok {
			return nil, porter.NewGraphConstructionError(e.Name, "", "duplicate entity")
		}
		g.byName[e.Name] = e
		e.columns = make(map[string]*Column, len(e.Columns))
		for _, c := range e.Columns {
			if c == nil {
				return nil, porter.NewGraphConstructionError(e.Name, "", "column cannot be empty")
			}
			if c.Name == "" {
				return nil, porter.NewGraphConstructionError(e.Name, "", "column name cannot be empty")
			}
			if _, ok := e.columns[c.Name]; ok {
				return nil, porter.NewGraphConstructionError(e.Name, "", fmt.Sprintf("duplicate column %q", c.Name))
			}
			e.columns[c.Name] = c
		}
		for _, pk := range e.PrimaryKey {
			if _, ok := e.columns[pk]; !ok && len(e.Columns) > 0 {
				return nil, porter.NewGraphConstructionError(e.Name, "", fmt.Sprintf("primary key column %q is not declared", pk))
			}
		}
	}
	for _, e := range entities {
		for i, r := range e.References {
			if err := g.link(e, r, i); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// link resolves the reference target and derives its computed attributes.
func (g *Graph) link(e *Entity, r *Reference, i int) error {
	if r == nil || r.Column == "" {
		return porter.NewGraphConstructionError(e.Name, "", "reference column cannot be empty")
	}
	t, ok := g.byName[r.Target]
	if !ok {
		return porter.NewGraphConstructionError(e.Name, r.Column, fmt.Sprintf("reference targets unknown entity %q", r.Target))
	}
	if r.Self && t != e {
		return porter.NewGraphConstructionError(e.Name, r.Column, fmt.Sprintf("self reference targets entity %q", r.Target))
	}
	if len(e.Columns) > 0 {
		c, ok := e.columns[r.Column]
		if !ok {
			return porter.NewGraphConstructionError(e.Name, r.Column, "reference column is not declared")
		}
		r.Nullable = c.Nullable
	}
	if r.TargetColumn == "" && len(t.PrimaryKey) == 1 {
		r.TargetColumn = t.PrimaryKey[0]
	}
	r.From = e.Name
	r.Self = t == e
	r.index = i
	g.dependents[t.Name] = append(g.dependents[t.Name], r)
	return nil
}

// Len returns the number of entities in the graph.
func (g *Graph) Len() int { return len(g.entities) }

// Entities returns all entities in declaration order.
func (g *Graph) Entities() []*Entity {
	return slices.Clone(g.entities)
}

// Entity returns the entity with the given name.
func (g *Graph) Entity(name string) (*Entity, bool) {
	e, ok := g.byName[name]
	return e, ok
}

// Names returns the entity names sorted lexically.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.entities))
	for _, e := range g.entities {
		names = append(names, e.Name)
	}
	slices.Sort(names)
	return names
}

// ReferencesOf returns the outgoing references of the named entity.
func (g *Graph) ReferencesOf(name string) []*Reference {
	if e, ok := g.byName[name]; ok {
		return slices.Clone(e.References)
	}
	return nil
}

// DependentsOf returns the references that target the named entity,
// including its self-references.
func (g *Graph) DependentsOf(name string) []*Reference {
	return slices.Clone(g.dependents[name])
}

// SelfReferences returns the references of the named entity that target the
// entity itself.
func (g *Graph) SelfReferences(name string) []*Reference {
	var refs []*Reference
	for _, r := range g.ReferencesOf(name) {
		if r.Self {
			refs = append(refs, r)
		}
	}
	return refs
}
