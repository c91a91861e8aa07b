package migrate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/syssam/porter/graph"
)

// fakeSource serves rows kept in key order.
type fakeSource struct {
	mu      sync.Mutex
	tables  map[string][][]any
	missing map[string]bool
	reads   map[string]int
	// fail returns an error for the n-th read of an entity.
	fail func(entity string, n int) error
}

func newSource(tables map[string][][]any) *fakeSource {
	return &fakeSource{tables: tables, missing: map[string]bool{}, reads: map[string]int{}}
}

func (s *fakeSource) Rows(_ context.Context, e *graph.Entity, after []any, limit int) ([][]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[e.Name]++
	if s.fail != nil {
		if err := s.fail(e.Name, s.reads[e.Name]); err != nil {
			return nil, err
		}
	}
	if s.missing[e.Name] {
		return nil, fmt.Errorf("%w: %s", ErrMissingTable, e.TableName())
	}
	idx := e.KeyIndexes()
	var out [][]any
	for _, row := range s.tables[e.Name] {
		if after != nil && compareKeys(keyOf(idx, row), after) <= 0 {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, slices.Clone(row))
	}
	return out, nil
}

// fakeDestination stores rows by key and enforces foreign keys while
// constraints are enabled.
type fakeDestination struct {
	mu       sync.Mutex
	g        *graph.Graph
	rows     map[string]map[string][]any
	disabled bool
	events   []string
	seq      map[string]int64
	missing  map[string]bool
	// reject makes batches containing a matching row fail.
	reject func(entity string, row []any) bool
	// lose drops matching rows without error.
	lose       func(entity string, row []any) bool
	enableErr  error
	seqErr     error
	applyCalls int
}

func newDestination(g *graph.Graph) *fakeDestination {
	d := &fakeDestination{
		g:       g,
		rows:    map[string]map[string][]any{},
		seq:     map[string]int64{},
		missing: map[string]bool{},
	}
	for _, e := range g.Entities() {
		d.rows[e.Name] = map[string][]any{}
	}
	return d
}

func (d *fakeDestination) event(format string, args ...any) {
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

func (d *fakeDestination) DisableConstraints(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disabled = true
	d.event("disable")
	return nil
}

func (d *fakeDestination) EnableConstraints(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.event("enable")
	if d.enableErr != nil {
		return d.enableErr
	}
	d.disabled = false
	return nil
}

func (d *fakeDestination) Truncate(_ context.Context, e *graph.Entity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.missing[e.Name] {
		return fmt.Errorf("%w: %s", ErrMissingTable, e.TableName())
	}
	d.event("truncate %s", e.Name)
	d.rows[e.Name] = map[string][]any{}
	return nil
}

func (d *fakeDestination) ApplyBatch(_ context.Context, e *graph.Entity, rows [][]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyCalls++
	idx := e.KeyIndexes()
	staged := map[string][]any{}
	for _, row := range rows {
		if d.reject != nil && d.reject(e.Name, row) {
			return errors.New("poison row")
		}
		k := formatKey(keyOf(idx, row))
		if _, ok := d.rows[e.Name][k]; ok {
			return fmt.Errorf("duplicate key %s", k)
		}
		staged[k] = slices.Clone(row)
		if !d.disabled {
			if err := d.checkRefs(e, row, staged); err != nil {
				return err
			}
		}
	}
	for k, row := range staged {
		if d.lose != nil && d.lose(e.Name, row) {
			continue
		}
		d.rows[e.Name][k] = row
	}
	return nil
}

func (d *fakeDestination) checkRefs(e *graph.Entity, row []any, staged map[string][]any) error {
	for _, r := range e.References {
		i := slices.IndexFunc(e.Columns, func(c *graph.Column) bool { return c.Name == r.Column })
		if row[i] == nil {
			continue
		}
		k := fmt.Sprint(row[i])
		_, ok := d.rows[r.Target][k]
		if !ok && r.Self {
			_, ok = staged[k]
		}
		if !ok {
			return fmt.Errorf("FOREIGN KEY constraint failed: %s", r)
		}
	}
	return nil
}

func (d *fakeDestination) ApplyFixups(_ context.Context, e *graph.Entity, fixups []*Fixup) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range fixups {
		row, ok := d.rows[e.Name][formatKey(f.Key)]
		if !ok {
			continue
		}
		i := slices.IndexFunc(e.Columns, func(c *graph.Column) bool { return c.Name == f.Column })
		row[i] = f.Value
	}
	d.event("fixups %s %d", e.Name, len(fixups))
	return nil
}

func (d *fakeDestination) MaxKey(_ context.Context, e *graph.Entity) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := e.KeyIndexes()
	var m any
	for _, row := range d.rows[e.Name] {
		if m == nil || compareKeys([]any{row[idx[0]]}, []any{m}) > 0 {
			m = row[idx[0]]
		}
	}
	return m, nil
}

func (d *fakeDestination) Count(_ context.Context, e *graph.Entity) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.rows[e.Name])), nil
}

func (d *fakeDestination) ResetSequence(_ context.Context, e *graph.Entity, next int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seqErr != nil {
		return d.seqErr
	}
	d.seq[e.Name] = next
	return nil
}

// value returns a column value of a destination row.
func (d *fakeDestination) value(entity string, key any, column string) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, _ := d.g.Entity(entity)
	i := slices.IndexFunc(e.Columns, func(c *graph.Column) bool { return c.Name == column })
	return d.rows[entity][fmt.Sprint(key)][i]
}

func (d *fakeDestination) count(entity string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rows[entity])
}

func compareKeys(a, b []any) int {
	for i := range a {
		var c int
		x, xok := asInt(a[i])
		y, yok := asInt(b[i])
		if xok && yok {
			c = cmp.Compare(x, y)
		} else {
			c = cmp.Compare(fmt.Sprint(a[i]), fmt.Sprint(b[i]))
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func asInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}
