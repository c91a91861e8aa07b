// Package graph provides the entity graph used for planning a data migration.
//
// An entity is a migratable unit that maps to exactly one destination table.
// Entities hold their columns and their outgoing foreign-key references; the
// graph links every reference to its target entity and rejects dangling ones.
//
// # Graph Structure
//
// The Graph type holds all entities in their declaration order:
//
//	g, err := graph.New(
//	    &graph.Entity{Name: "A", PrimaryKey: []string{"id"}, Columns: ...},
//	    &graph.Entity{Name: "B", PrimaryKey: []string{"id"}, Columns: ...,
//	        References: []*graph.Reference{{Column: "a_id", Target: "A"}}},
//	)
//
// A Reference points from the entity that declares it (the dependent) to its
// Target (the referenced entity). Self-references, where Target is the
// declaring entity itself, are legal and never form a blocking cycle.
//
// # Traversal
//
//	g.ReferencesOf("B")     // outgoing references of B
//	g.DependentsOf("A")     // references pointing at A
//	g.SelfReferences("B")   // references of B that target B
//
// # Cycles
//
// FindCycles returns the strongly-connected components with two or more
// members, computed with Tarjan's algorithm over the non-self references.
// The result is deterministic: members are sorted by name and components are
// ordered by their first member.
//
//	for _, c := range graph.FindCycles(g) {
//	    fmt.Println(c.Entities, len(c.References))
//	}
//
// Graphs are immutable after construction and safe for concurrent readers.
package graph
