// Package geodata loads the APL municipality dataset, normalizes its
// coordinate reference system, and projects it to a flat attribute table.
package geodata

import (
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Column names every dataset must carry.
const (
	ColumnCity       = "Ville"
	ColumnDepartment = "departement"
	ColumnRegion     = "region"
	ColumnGeometry   = "geometry"
)

// RequiredColumns lists the columns the filter engine depends on.
var RequiredColumns = []string{ColumnCity, ColumnDepartment, ColumnRegion}

// Record is the attribute part of one municipality. City, Department and
// Region are typed copies of the required columns; Attributes holds every
// property as decoded (string, float64, bool, or nil for null).
type Record struct {
	City       string
	Department string
	Region     string
	Attributes map[string]any
}

// Value returns the attribute stored under column. The second result is
// false when the record has no such key.
func (r Record) Value(column string) (any, bool) {
	v, ok := r.Attributes[column]
	return v, ok
}

// Float returns the numeric value of column, or false if it is null, absent
// or not a number.
func (r Record) Float(column string) (float64, bool) {
	switch v := r.Attributes[column].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Feature is one municipality: boundary geometry plus attributes.
type Feature struct {
	ID       string
	Geometry geom.T
	Record   Record
}

// Dataset is the loaded collection of features. It is never mutated after
// load; transformations return new datasets.
type Dataset struct {
	Source   string
	CRS      CRS
	Columns  []string // property columns in first-appearance order, no geometry
	Features []Feature
	LoadedAt time.Time
}

// Len returns the number of features.
func (d *Dataset) Len() int {
	return len(d.Features)
}

// Bounds returns the bounding box of every non-empty geometry, or nil when
// the dataset has none.
func (d *Dataset) Bounds() *geom.Bounds {
	var b *geom.Bounds
	for _, f := range d.Features {
		if f.Geometry == nil || f.Geometry.Empty() {
			continue
		}
		if b == nil {
			b = geom.NewBounds(geom.XY)
		}
		b.Extend(f.Geometry)
	}
	return b
}

// newRecord builds a Record from decoded properties, enforcing that the
// required columns are present and non-empty.
func newRecord(props map[string]any) (Record, error) {
	rec := Record{Attributes: props}
	if rec.Attributes == nil {
		rec.Attributes = map[string]any{}
	}

	fields := []*string{&rec.City, &rec.Department, &rec.Region}
	for i, col := range RequiredColumns {
		s, ok := attributeString(rec.Attributes[col])
		if !ok || s == "" {
			return Record{}, eris.Errorf("missing required column %q", col)
		}
		*fields[i] = s
	}
	return rec, nil
}

// attributeString renders a scalar attribute as the string used for
// equality filtering. Department codes published as numbers keep their
// integer form.
func attributeString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
