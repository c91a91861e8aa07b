package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/porter/dialect"
)

// Builder is a statement builder with dialect-aware identifier quoting and
// argument placeholders.
//
//	query, args := sql.Dialect(dialect.Postgres).
//	    SelectAfter("users", []string{"id", "name"}, []string{"id"}, []any{10}, 100).
//	    Query()
//	// SELECT "id", "name" FROM "users" WHERE "id" > $1 ORDER BY "id" LIMIT 100
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// Dialect returns a new Builder for the given dialect.
func Dialect(name string) *Builder {
	return &Builder{dialect: dialect.Normalize(name)}
}

// Quote quotes the identifier. Dotted identifiers (schema.table) are quoted
// part by part.
func (b *Builder) Quote(ident string) string {
	q := `"`
	if b.dialect == dialect.MySQL {
		q = "`"
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// WriteString writes a raw string.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident writes a quoted identifier.
func (b *Builder) Ident(s string) *Builder {
	b.sb.WriteString(b.Quote(s))
	return b
}

// IdentComma writes a comma-separated list of quoted identifiers.
func (b *Builder) IdentComma(idents ...string) *Builder {
	for i, s := range idents {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Ident(s)
	}
	return b
}

// Arg writes a placeholder and records its argument.
func (b *Builder) Arg(a any) *Builder {
	b.args = append(b.args, a)
	if b.dialect == dialect.Postgres {
		b.sb.WriteString("$" + strconv.Itoa(len(b.args)))
	} else {
		b.sb.WriteByte('?')
	}
	return b
}

// Args writes a comma-separated list of placeholders.
func (b *Builder) Args(as ...any) *Builder {
	for i, a := range as {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(a)
	}
	return b
}

// Nested wraps what f writes in parentheses.
func (b *Builder) Nested(f func(*Builder)) *Builder {
	b.sb.WriteByte('(')
	f(b)
	b.sb.WriteByte(')')
	return b
}

// String returns the statement written so far.
func (b *Builder) String() string { return b.sb.String() }

// Query returns the statement and its arguments.
func (b *Builder) Query() (string, []any) { return b.sb.String(), b.args }

// SelectAfter writes a keyset-paginated select of columns from table,
// ordered by the key columns. A nil after starts from the first row.
// Composite keys are compared as row values.
func (b *Builder) SelectAfter(table string, columns, keys []string, after []any, limit int) *Builder {
	b.WriteString("SELECT ").IdentComma(columns...).WriteString(" FROM ").Ident(table)
	if len(after) > 0 {
		b.WriteString(" WHERE ")
		if len(keys) == 1 {
			b.Ident(keys[0]).WriteString(" > ").Arg(after[0])
		} else {
			b.Nested(func(b *Builder) { b.IdentComma(keys...) }).
				WriteString(" > ").
				Nested(func(b *Builder) { b.Args(after...) })
		}
	}
	b.WriteString(" ORDER BY ").IdentComma(keys...)
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	return b
}

// Insert writes a multi-row insert of all given columns.
func (b *Builder) Insert(table string, columns []string, rows [][]any) *Builder {
	b.WriteString("INSERT INTO ").Ident(table).WriteString(" ").
		Nested(func(b *Builder) { b.IdentComma(columns...) }).
		WriteString(" VALUES ")
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Nested(func(b *Builder) { b.Args(row...) })
	}
	return b
}

// Update writes an update of one column of the row identified by its key.
// Each column in keep is assigned to itself, which stops engines from
// rewriting auto-updated timestamps.
func (b *Builder) Update(table, column string, value any, keep, keys []string, key []any) *Builder {
	b.WriteString("UPDATE ").Ident(table).WriteString(" SET ").Ident(column).WriteString(" = ").Arg(value)
	for _, c := range keep {
		b.WriteString(", ").Ident(c).WriteString(" = ").Ident(c)
	}
	b.WriteString(" WHERE ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.Ident(k).WriteString(" = ").Arg(key[i])
	}
	return b
}

// Truncate writes the statement removing all rows of table. Postgres also
// restarts the identity of the table and cascades to dependent tables.
func (b *Builder) Truncate(table string) *Builder {
	if b.dialect == dialect.Postgres {
		return b.WriteString("TRUNCATE TABLE ").Ident(table).WriteString(" RESTART IDENTITY CASCADE")
	}
	return b.WriteString("DELETE FROM ").Ident(table)
}

// Max writes a select of the maximum value of column.
func (b *Builder) Max(table, column string) *Builder {
	return b.WriteString("SELECT MAX(").Ident(column).WriteString(") FROM ").Ident(table)
}

// Count writes a select of the number of rows of table.
func (b *Builder) Count(table string) *Builder {
	return b.WriteString("SELECT COUNT(*) FROM ").Ident(table)
}
