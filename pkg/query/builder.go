package query

import (
	"fmt"
	"reflect"
	"strings"
)

type condition struct {
	clause string
	args   []any
}

// SortField orders by a projected field.
type SortField struct {
	Field      string
	Descending bool
}

// Builder accumulates conditions and renders them with sequential $n
// placeholders.
type Builder struct {
	projection *ProjectionMap
	conditions []condition
	sort       []SortField
	limit      int
}

// NewBuilder creates a Builder ordered by defaultSort unless OrderBy overrides it.
func NewBuilder(projection *ProjectionMap, defaultSort ...SortField) *Builder {
	return &Builder{
		projection: projection,
		sort:       defaultSort,
	}
}

// ParseSortFields parses "field,-other" into ascending and descending fields.
func ParseSortFields(s string) []SortField {
	var fields []SortField
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if after, ok := strings.CutPrefix(part, "-"); ok {
			fields = append(fields, SortField{Field: after, Descending: true})
			continue
		}
		fields = append(fields, SortField{Field: part})
	}
	return fields
}

// OrderBy replaces the sort order. An empty slice keeps the default.
func (b *Builder) OrderBy(fields ...SortField) *Builder {
	if len(fields) > 0 {
		b.sort = fields
	}
	return b
}

// Limit caps the row count. Zero means unlimited.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// WhereEquals adds field = value. Nil values and zero strings are ignored.
func (b *Builder) WhereEquals(field string, value any) *Builder {
	if isEmpty(value) {
		return b
	}
	b.conditions = append(b.conditions, condition{
		clause: b.projection.Column(field) + " = $%d",
		args:   []any{value},
	})
	return b
}

// WhereIn adds field IN (...). Empty value lists are ignored.
func (b *Builder) WhereIn(field string, values ...any) *Builder {
	if len(values) == 0 {
		return b
	}
	placeholders := strings.TrimSuffix(strings.Repeat("$%d, ", len(values)), ", ")
	b.conditions = append(b.conditions, condition{
		clause: fmt.Sprintf("%s IN (%s)", b.projection.Column(field), placeholders),
		args:   values,
	})
	return b
}

// WhereContains adds a case-insensitive substring match.
func (b *Builder) WhereContains(field, value string) *Builder {
	if value == "" {
		return b
	}
	b.conditions = append(b.conditions, condition{
		clause: b.projection.Column(field) + " ILIKE $%d",
		args:   []any{"%" + value + "%"},
	})
	return b
}

// Build renders the SELECT statement and its arguments.
func (b *Builder) Build() (string, []any) {
	where, args := b.where()

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s%s", b.projection.Columns(), b.projection.From(), where)
	sb.WriteString(b.orderBy())
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	return sb.String(), args
}

// BuildCount renders a COUNT(*) over the same conditions.
func (b *Builder) BuildCount() (string, []any) {
	where, args := b.where()
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", b.projection.From(), where), args
}

// BuildSingle renders a lookup of one row by field.
func (b *Builder) BuildSingle(field string, value any) (string, []any) {
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1",
		b.projection.Columns(),
		b.projection.From(),
		b.projection.Column(field),
	), []any{value}
}

func (b *Builder) orderBy() string {
	if len(b.sort) == 0 {
		return ""
	}
	parts := make([]string, len(b.sort))
	for i, f := range b.sort {
		dir := "ASC"
		if f.Descending {
			dir = "DESC"
		}
		parts[i] = b.projection.Column(f.Field) + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (b *Builder) where() (string, []any) {
	if len(b.conditions) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(b.conditions))
	var args []any
	for _, c := range b.conditions {
		clause := c.clause
		for _, arg := range c.args {
			args = append(args, arg)
			clause = strings.Replace(clause, "$%d", fmt.Sprintf("$%d", len(args)), 1)
		}
		clauses = append(clauses, clause)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	case reflect.String:
		return v.Len() == 0
	}
	return false
}
