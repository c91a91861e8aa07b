package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/porter/graph"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking indicates that the migration cannot load the table as is.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if there are any breaking changes.
func (r *ValidationResult) HasBreakingChanges() bool {
	for _, e := range r.Errors {
		if e.Breaking {
			return true
		}
	}
	for _, w := range r.Warnings {
		if w.Breaking {
			return true
		}
	}
	return false
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, errs []*ValidationError) {
		if len(errs) == 0 {
			return
		}
		sb.WriteString(title)
		sb.WriteString(":\n")
		for _, e := range errs {
			sb.WriteString("  - ")
			sb.WriteString(e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	write("Errors", r.Errors)
	write("Warnings", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

func (r *ValidationResult) add(warn bool, err *ValidationError) {
	if warn {
		r.Warnings = append(r.Warnings, err)
	} else {
		r.Errors = append(r.Errors, err)
	}
}

// ValidateOption configures schema validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	allowMissingTable  bool
	allowMissingColumn bool
	inspect            []InspectOption
}

// AllowMissingTable reports missing destination tables as warnings. The
// executor skips such entities.
func AllowMissingTable() ValidateOption {
	return func(c *validateConfig) {
		c.allowMissingTable = true
	}
}

// AllowMissingColumn reports missing destination columns as warnings.
func AllowMissingColumn() ValidateOption {
	return func(c *validateConfig) {
		c.allowMissingColumn = true
	}
}

// WithInspectOptions sets the options used to inspect the destination.
func WithInspectOptions(opts ...InspectOption) ValidateOption {
	return func(c *validateConfig) {
		c.inspect = append(c.inspect, opts...)
	}
}

// Validate inspects the destination database and checks that it can hold
// the rows of the given entities.
//
// Example:
//
//	result, err := schema.Validate(ctx, "postgres", db, g.Entities())
//	if err != nil {
//	    return err
//	}
//	if result.HasErrors() {
//	    log.Fatal("destination is not ready:\n", result)
//	}
func Validate(ctx context.Context, name string, db ExecQuerier, entities []*graph.Entity, opts ...ValidateOption) (*ValidationResult, error) {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	tables := make([]string, 0, len(entities))
	for _, e := range entities {
		tables = append(tables, e.TableName())
	}
	inspectOpts := append(slices.Clone(cfg.inspect), WithTables(tables...))
	destination, err := Inspect(ctx, name, db, inspectOpts...)
	if err != nil {
		return nil, err
	}
	return ValidateEntities(destination, entities, opts...), nil
}

// ValidateEntities compares the entities found in the destination with the
// entities that will be loaded into it. Tables are matched by table name.
//
// Missing tables and columns are errors. Columns that are nullable in the
// source but required in the destination are breaking warnings, and required
// destination columns unknown to the source are warnings.
func ValidateEntities(destination, desired []*graph.Entity, opts ...ValidateOption) *ValidationResult {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &ValidationResult{}
	current := make(map[string]*graph.Entity, len(destination))
	for _, e := range destination {
		current[e.TableName()] = e
	}
	for _, want := range desired {
		table := want.TableName()
		have, ok := current[table]
		if !ok {
			result.add(cfg.allowMissingTable, &ValidationError{
				Table:    table,
				Message:  "table does not exist in the destination",
				Breaking: true,
			})
			continue
		}
		validateColumns(have, want, cfg, result)
	}
	return result
}

func validateColumns(have, want *graph.Entity, cfg *validateConfig, result *ValidationResult) {
	table := want.TableName()
	for _, c := range want.Columns {
		dc, ok := have.Column(c.Name)
		if !ok {
			result.add(cfg.allowMissingColumn, &ValidationError{
				Table:    table,
				Column:   c.Name,
				Message:  "column does not exist in the destination",
				Breaking: true,
			})
			continue
		}
		if c.Nullable && !dc.Nullable {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:    table,
				Column:   c.Name,
				Message:  "column is NOT NULL in the destination and may reject NULL values",
				Breaking: true,
			})
		}
		if c.Type.Valid() && dc.Type.Valid() && c.Type != dc.Type && c.Type.Numeric() != dc.Type.Numeric() {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   table,
				Column:  c.Name,
				Message: fmt.Sprintf("column type differs: %s in the source, %s in the destination", c.Type, dc.Type),
			})
		}
	}
	for _, dc := range have.Columns {
		if _, ok := want.Column(dc.Name); !ok && !dc.Nullable {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   table,
				Column:  dc.Name,
				Message: "NOT NULL column is not copied and needs a default value",
			})
		}
	}
	if !slices.Equal(have.PrimaryKey, want.PrimaryKey) && len(have.PrimaryKey) > 0 {
		result.Warnings = append(result.Warnings, &ValidationError{
			Table:   table,
			Message: fmt.Sprintf("primary key differs: (%s) in the source, (%s) in the destination", strings.Join(want.PrimaryKey, ", "), strings.Join(have.PrimaryKey, ", ")),
		})
	}
}
