// Package schema reads entity metadata from live databases and validates
// destination tables against it.
package schema

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/porter/dialect"
	"github.com/syssam/porter/graph"
	"github.com/syssam/porter/schema/field"
)

// InspectOption configures schema inspection.
type InspectOption func(*inspectConfig)

type inspectConfig struct {
	schema  string
	tables  []string
	exclude []string
	naming  func(table string) string
}

// WithSchemaName sets the database schema to inspect. Defaults to the
// connection's current schema.
func WithSchemaName(name string) InspectOption {
	return func(c *inspectConfig) {
		c.schema = name
	}
}

// WithTables limits inspection to the given tables.
func WithTables(tables ...string) InspectOption {
	return func(c *inspectConfig) {
		c.tables = append(c.tables, tables...)
	}
}

// WithExclude excludes tables matching the glob patterns, e.g.
// "django_*" or "auth_permission".
func WithExclude(patterns ...string) InspectOption {
	return func(c *inspectConfig) {
		c.exclude = append(c.exclude, patterns...)
	}
}

// WithEntityNaming sets the function deriving entity names from table
// names. Defaults to the table name.
func WithEntityNaming(f func(table string) string) InspectOption {
	return func(c *inspectConfig) {
		c.naming = f
	}
}

// ExecQuerier is the database handle needed for inspection. *sql.DB
// implements it.
type ExecQuerier = schema.ExecQuerier

// Open returns the Atlas driver for the given dialect.
func Open(name string, db ExecQuerier) (migrate.Driver, error) {
	switch dialect.Normalize(name) {
	case dialect.Postgres:
		return postgres.Open(db)
	case dialect.MySQL:
		return mysql.Open(db)
	case dialect.SQLite:
		return sqlite.Open(db)
	default:
		return nil, fmt.Errorf("sql/schema: unsupported dialect %q", name)
	}
}

// Inspect reads the tables of a live database and returns their entity
// metadata, sorted by table name. Foreign keys pointing outside the
// inspected tables are dropped. Composite foreign keys are recorded on
// their first column.
func Inspect(ctx context.Context, name string, db ExecQuerier, opts ...InspectOption) ([]*graph.Entity, error) {
	cfg := &inspectConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	drv, err := Open(name, db)
	if err != nil {
		return nil, err
	}
	s, err := drv.InspectSchema(ctx, cfg.schema, &schema.InspectOptions{
		Mode:    schema.InspectTables,
		Tables:  cfg.tables,
		Exclude: cfg.exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("sql/schema: inspect: %w", err)
	}
	return Entities(name, s.Tables, cfg.naming), nil
}

// Entities converts Atlas tables inspected from the named dialect to entity
// metadata. A nil naming uses the table names.
func Entities(name string, tables []*schema.Table, naming func(string) string) []*graph.Entity {
	d := dialect.Normalize(name)
	if naming == nil {
		naming = func(t string) string { return t }
	}
	tables = slices.Clone(tables)
	slices.SortFunc(tables, func(a, b *schema.Table) int { return cmp.Compare(a.Name, b.Name) })
	names := make(map[*schema.Table]string, len(tables))
	byName := make(map[string]string, len(tables))
	for _, t := range tables {
		names[t] = naming(t.Name)
		byName[t.Name] = names[t]
	}
	entities := make([]*graph.Entity, 0, len(tables))
	for _, t := range tables {
		e := &graph.Entity{Name: names[t], Table: t.Name}
		if t.PrimaryKey != nil {
			for _, p := range t.PrimaryKey.Parts {
				if p.C != nil {
					e.PrimaryKey = append(e.PrimaryKey, p.C.Name)
				}
			}
		}
		for _, c := range t.Columns {
			e.Columns = append(e.Columns, column(d, c))
		}
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == nil || len(fk.Columns) == 0 {
				continue
			}
			target, ok := byName[fk.RefTable.Name]
			if !ok {
				continue
			}
			r := &graph.Reference{
				Column:   fk.Columns[0].Name,
				Target:   target,
				Nullable: fk.Columns[0].Type != nil && fk.Columns[0].Type.Null,
			}
			if len(fk.RefColumns) > 0 {
				r.TargetColumn = fk.RefColumns[0].Name
			}
			e.References = append(e.References, r)
		}
		entities = append(entities, e)
	}
	return entities
}

func column(d string, c *schema.Column) *graph.Column {
	col := &graph.Column{Name: c.Name, Type: field.TypeOther}
	if c.Type != nil {
		col.Nullable = c.Type.Null
		col.Type = fieldType(d, c.Type.Type)
	}
	for _, a := range c.Attrs {
		if u, ok := a.(*mysql.OnUpdate); ok && strings.Contains(strings.ToUpper(u.A), "CURRENT_TIMESTAMP") {
			col.AutoNow = true
		}
	}
	return col
}

// fieldType maps an Atlas column type to its semantic type.
func fieldType(d string, t schema.Type) field.Type {
	switch t := t.(type) {
	case *schema.BoolType:
		return field.TypeBool
	case *schema.IntegerType:
		if d == dialect.SQLite {
			// All SQLite integers share the 64-bit affinity.
			return field.TypeInt64
		}
		return intType(t.T, t.Unsigned)
	case *postgres.SerialType:
		switch strings.ToLower(t.T) {
		case postgres.TypeSmallSerial, postgres.TypeSerial2:
			return field.TypeInt16
		case postgres.TypeBigSerial, postgres.TypeSerial8:
			return field.TypeInt64
		default:
			return field.TypeInt32
		}
	case *schema.FloatType:
		if p := strings.ToLower(t.T); p == "real" || p == "float4" || (p == "float" && t.Precision > 0 && t.Precision <= 24) {
			return field.TypeFloat32
		}
		return field.TypeFloat64
	case *schema.StringType:
		return field.TypeString
	case *schema.EnumType:
		return field.TypeEnum
	case *schema.TimeType:
		return field.TypeTime
	case *schema.JSONType:
		return field.TypeJSON
	case *schema.BinaryType:
		return field.TypeBytes
	case *schema.UUIDType:
		return field.TypeUUID
	default:
		return field.TypeOther
	}
}

func intType(name string, unsigned bool) field.Type {
	var signed, uns field.Type
	switch strings.ToLower(name) {
	case "tinyint", "int1":
		signed, uns = field.TypeInt8, field.TypeUint8
	case "smallint", "int2":
		signed, uns = field.TypeInt16, field.TypeUint16
	case "mediumint", "int", "integer", "int4":
		signed, uns = field.TypeInt32, field.TypeUint32
	default:
		signed, uns = field.TypeInt64, field.TypeUint64
	}
	if unsigned {
		return uns
	}
	return signed
}
