// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package tabular implements the rectangular views into which backend records
// are flattened. Every row of a Table holds a value for each of the table's
// columns; missing values are stored as nil rather than by leaving columns
// out of a row.
package tabular

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/olekukonko/tablewriter"
)

// the separator between a column's prefix and its field name
const Separator = "."

// A Table is an ordered set of named columns and the rows holding their values.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// Creates an empty table with the given columns (duplicates are ignored).
func New(columns ...string) *Table {
	t := &Table{index: make(map[string]int)}
	for _, c := range columns {
		t.addColumn(c)
	}
	return t
}

// Creates a single-row table from the given values, with columns in the order
// given.
func SingleRow(columns []string, values map[string]any) *Table {
	t := New(columns...)
	t.AppendRow(values)
	return t
}

func (t *Table) addColumn(name string) bool {
	if _, found := t.index[name]; found {
		return false
	}
	t.index[name] = len(t.columns)
	t.columns = append(t.columns, name)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], nil)
	}
	return true
}

// Returns the table's column names in order.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// Returns true if the table has a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, found := t.index[name]
	return found
}

// Returns the number of rows in the table.
func (t *Table) Len() int {
	return len(t.rows)
}

// Returns true if the table has neither rows nor columns.
func (t *Table) Empty() bool {
	return len(t.rows) == 0 && len(t.columns) == 0
}

// Returns the value in the given row and column (nil if the column doesn't
// exist).
func (t *Table) Value(row int, column string) any {
	c, found := t.index[column]
	if !found {
		return nil
	}
	return t.rows[row][c]
}

// Returns the given row as a mapping from column name to value. Every column
// is present in the mapping.
func (t *Table) Row(i int) map[string]any {
	row := make(map[string]any, len(t.columns))
	for c, name := range t.columns {
		row[name] = t.rows[i][c]
	}
	return row
}

// Appends a row, adding any columns that the table doesn't yet have. New
// columns are added in sorted order so the result doesn't depend on map
// iteration.
func (t *Table) AppendRow(values map[string]any) {
	var added []string
	for name := range values {
		if !t.HasColumn(name) {
			added = append(added, name)
		}
	}
	slices.Sort(added)
	for _, name := range added {
		t.addColumn(name)
	}
	row := make([]any, len(t.columns))
	for name, value := range values {
		row[t.index[name]] = value
	}
	t.rows = append(t.rows, row)
}

// Returns a copy of the table whose column names are prefixed by the given
// string and the separator.
func (t *Table) Prefix(prefix string) *Table {
	p := New()
	for _, name := range t.columns {
		p.addColumn(prefix + Separator + name)
	}
	for _, row := range t.rows {
		p.rows = append(p.rows, slices.Clone(row))
	}
	return p
}

// Returns a copy of the table without the given columns.
func (t *Table) Drop(columns ...string) *Table {
	d := New()
	var keep []int
	for c, name := range t.columns {
		if !slices.Contains(columns, name) {
			d.addColumn(name)
			keep = append(keep, c)
		}
	}
	for _, row := range t.rows {
		r := make([]any, len(keep))
		for i, c := range keep {
			r[i] = row[c]
		}
		d.rows = append(d.rows, r)
	}
	return d
}

// Returns a copy of the table with a column holding the given value in every
// row. If the column already exists its values are replaced.
func (t *Table) WithConstant(column string, value any) *Table {
	w := t.clone()
	w.addColumn(column)
	c := w.index[column]
	for i := range w.rows {
		w.rows[i][c] = value
	}
	return w
}

func (t *Table) clone() *Table {
	c := New(t.columns...)
	for _, row := range t.rows {
		c.rows = append(c.rows, slices.Clone(row))
	}
	return c
}

// Binds the given tables side by side. The result has as many rows as the
// longest table; shorter tables are padded with nil. When two tables share a
// column name, the first occurrence is kept.
func ColumnBind(tables ...*Table) *Table {
	b := New()
	nrows := 0
	for _, t := range tables {
		if t.Len() > nrows {
			nrows = t.Len()
		}
	}
	type source struct {
		table  *Table
		column int
	}
	var sources []source
	for _, t := range tables {
		for c, name := range t.columns {
			if b.addColumn(name) {
				sources = append(sources, source{t, c})
			}
		}
	}
	for i := 0; i < nrows; i++ {
		row := make([]any, len(sources))
		for c, s := range sources {
			if i < s.table.Len() {
				row[c] = s.table.rows[i][s.column]
			}
		}
		b.rows = append(b.rows, row)
	}
	return b
}

// Binds the given tables one above the other. The result's columns are the
// union of the tables' columns in first-seen order; values missing from a
// table are nil.
func RowBind(tables ...*Table) *Table {
	b := New()
	for _, t := range tables {
		for _, name := range t.columns {
			b.addColumn(name)
		}
	}
	for _, t := range tables {
		for _, row := range t.rows {
			r := make([]any, len(b.columns))
			for c, name := range t.columns {
				r[b.index[name]] = row[c]
			}
			b.rows = append(b.rows, r)
		}
	}
	return b
}

// Returns a left join of the table with another: each row is extended with the
// columns of the first row of other whose rightColumn value equals the row's
// leftColumn value. Unmatched rows get nil values.
func (t *Table) Merge(other *Table, leftColumn, rightColumn string) *Table {
	m := t.clone()
	var added []string
	for _, name := range other.columns {
		if m.addColumn(name) {
			added = append(added, name)
		}
	}
	if !other.HasColumn(rightColumn) {
		return m
	}
	for i := range m.rows {
		key := t.Value(i, leftColumn)
		if key == nil {
			continue
		}
		for j := range other.rows {
			if format(other.Value(j, rightColumn)) == format(key) {
				for _, name := range added {
					m.rows[i][m.index[name]] = other.Value(j, name)
				}
				break
			}
		}
	}
	return m
}

// Returns true if the two tables have the same columns and values.
func (t *Table) Equal(other *Table) bool {
	a, errA := json.Marshal(t)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && string(a) == string(b)
}

// Serializes the table as {"columns": [...], "rows": [[...], ...]}.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := t.rows
	if rows == nil {
		rows = [][]any{}
	}
	columns := t.columns
	if columns == nil {
		columns = []string{}
	}
	return json.Marshal(struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}{columns, rows})
}

// formats a single value for display; nil values are blank
func format(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

func (t *Table) formattedRows() [][]string {
	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		rows[i] = make([]string, len(row))
		for c, value := range row {
			rows[i][c] = format(value)
		}
	}
	return rows
}

// Renders the table for a terminal.
func (t *Table) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(t.columns)
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(t.formattedRows())
	table.Render()
}

// Writes the table as CSV with a header row.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.columns); err != nil {
		return err
	}
	if err := writer.WriteAll(t.formattedRows()); err != nil {
		return err
	}
	return writer.Error()
}
