// Package models defines the in-memory tabular representation shared by
// connectors, the lake writer and the columnar formats.
package models

import (
	"fmt"
	"time"
)

// FieldType represents the data type of a column
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeDate      FieldType = "date"
)

// Column describes a single named, typed column of a Table.
type Column struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// Table is an ordered set of typed columns plus row values.
//
// Row values must match their column type: string, int64, float64, bool,
// time.Time (for both timestamp and date) or nil for a missing value.
type Table struct {
	Columns []Column        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{Columns: columns}
}

// AppendRow adds a row. The row length must match the column count.
func (t *Table) AppendRow(values ...interface{}) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Columns))
	}
	t.Rows = append(t.Rows, values)
	return nil
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// ColumnNames returns column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Value returns the value at row r for the named column.
func (t *Table) Value(r int, name string) (interface{}, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 || r < 0 || r >= len(t.Rows) {
		return nil, false
	}
	return t.Rows[r][idx], true
}

// Validate checks that every row matches the column layout and types.
func (t *Table) Validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("table has no columns")
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("column with empty name")
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(t.Columns))
		}
		for j, v := range row {
			if v == nil {
				continue
			}
			if !valueMatches(t.Columns[j].Type, v) {
				return fmt.Errorf("row %d column %q: %T does not match type %s", i, t.Columns[j].Name, v, t.Columns[j].Type)
			}
		}
	}
	return nil
}

func valueMatches(ft FieldType, v interface{}) bool {
	switch ft {
	case FieldTypeString:
		_, ok := v.(string)
		return ok
	case FieldTypeInt:
		_, ok := v.(int64)
		return ok
	case FieldTypeFloat:
		_, ok := v.(float64)
		return ok
	case FieldTypeBool:
		_, ok := v.(bool)
		return ok
	case FieldTypeTimestamp, FieldTypeDate:
		_, ok := v.(time.Time)
		return ok
	default:
		return false
	}
}
