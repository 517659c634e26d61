// Package query builds parameterized SELECT statements over a projected table.
package query

import (
	"fmt"
	"strings"
)

// ProjectionMap maps logical field names to qualified columns of one table.
type ProjectionMap struct {
	table   string
	alias   string
	columns map[string]string
	ordered []string
}

// NewProjectionMap creates a projection over table, referenced as alias.
func NewProjectionMap(table, alias string) *ProjectionMap {
	return &ProjectionMap{
		table:   table,
		alias:   alias,
		columns: make(map[string]string),
	}
}

// Project maps field to column and appends it to the select list.
func (p *ProjectionMap) Project(column, field string) *ProjectionMap {
	qualified := fmt.Sprintf("%s.%s", p.alias, column)
	p.columns[field] = qualified
	p.ordered = append(p.ordered, qualified)
	return p
}

// From renders "table alias".
func (p *ProjectionMap) From() string {
	return fmt.Sprintf("%s %s", p.table, p.alias)
}

// Column returns the qualified column for field, or field itself if unmapped.
func (p *ProjectionMap) Column(field string) string {
	if col, ok := p.columns[field]; ok {
		return col
	}
	return field
}

// Columns renders the select list in projection order.
func (p *ProjectionMap) Columns() string {
	return strings.Join(p.ordered, ", ")
}
