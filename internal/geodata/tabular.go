package geodata

import (
	"bytes"
	"encoding/json"
	"slices"
)

// Table is the flat, geometry-free view of a dataset.
type Table struct {
	Columns []string
	Rows    []Record
}

// ToTabular drops geometry and keeps every other column, in row order.
func ToTabular(ds *Dataset) *Table {
	t := &Table{
		Columns: slices.Clone(ds.Columns),
		Rows:    make([]Record, len(ds.Features)),
	}
	for i, f := range ds.Features {
		t.Rows[i] = f.Record
	}
	return t
}

// HasColumn reports whether column is part of the table schema.
func (t *Table) HasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Value returns the cell at row and column, nil when null or absent.
func (t *Table) Value(row int, column string) any {
	if row < 0 || row >= len(t.Rows) {
		return nil
	}
	v, _ := t.Rows[row].Value(column)
	return v
}

// WithRows returns a table sharing t's schema with the given rows.
func (t *Table) WithRows(rows []Record) *Table {
	return &Table{Columns: slices.Clone(t.Columns), Rows: rows}
}

// MarshalJSON writes the table as {"columns": [...], "rows": [{...}]}
// with each row's keys in column order.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"columns":`)
	cols, err := json.Marshal(t.Columns)
	if err != nil {
		return nil, err
	}
	buf.Write(cols)
	buf.WriteString(`,"rows":[`)
	for i, r := range t.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeOrderedRow(&buf, t.Columns, r); err != nil {
			return nil, err
		}
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

func writeOrderedRow(buf *bytes.Buffer, columns []string, r Record) error {
	buf.WriteByte('{')
	for i, col := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(col)
		if err != nil {
			return err
		}
		v, err := json.Marshal(r.Attributes[col])
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return nil
}
