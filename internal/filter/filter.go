// Package filter narrows the APL table by city, department and region.
package filter

import (
	"errors"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
)

// Field is one of the filterable columns.
type Field string

// Filterable fields, named after their dataset columns.
const (
	City       Field = geodata.ColumnCity
	Department Field = geodata.ColumnDepartment
	Region     Field = geodata.ColumnRegion
)

// Fields lists the filterable fields in cascade order.
var Fields = []Field{City, Department, Region}

// ErrUnknownField is returned by ParseField for names outside Fields.
var ErrUnknownField = errors.New("unknown filter field")

// ParseField accepts a column name ("Ville") or the API alias ("city").
func ParseField(name string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "city", "ville":
		return City, nil
	case "department", "departement":
		return Department, nil
	case "region":
		return Region, nil
	default:
		return "", ErrUnknownField
	}
}

func (f Field) value(r geodata.Record) string {
	switch f {
	case City:
		return r.City
	case Department:
		return r.Department
	case Region:
		return r.Region
	default:
		return ""
	}
}

// Selection holds the three optional equality predicates. An empty string
// leaves its field unconstrained.
type Selection struct {
	City       string `json:"city"`
	Department string `json:"department"`
	Region     string `json:"region"`
}

// Reset returns the selection with every predicate unset.
func Reset() Selection {
	return Selection{}
}

// IsEmpty reports whether no predicate is set.
func (s Selection) IsEmpty() bool {
	return s == Selection{}
}

// Get returns the predicate for f.
func (s Selection) Get(f Field) string {
	switch f {
	case City:
		return s.City
	case Department:
		return s.Department
	case Region:
		return s.Region
	default:
		return ""
	}
}

// With returns a copy of s with the predicate for f set to value.
func (s Selection) With(f Field, value string) Selection {
	switch f {
	case City:
		s.City = value
	case Department:
		s.Department = value
	case Region:
		s.Region = value
	}
	return s
}

// Apply returns the rows of t matching every set predicate exactly. The
// input table is not modified; an unmatched value yields zero rows.
func Apply(t *geodata.Table, sel Selection) *geodata.Table {
	rows := make([]geodata.Record, 0, len(t.Rows))
	for _, r := range t.Rows {
		if Matches(r, sel) {
			rows = append(rows, r)
		}
	}
	return t.WithRows(rows)
}

// Matches reports whether r satisfies every set predicate of sel.
func Matches(r geodata.Record, sel Selection) bool {
	for _, f := range Fields {
		want := sel.Get(f)
		if want != "" && f.value(r) != want {
			return false
		}
	}
	return true
}

// Options returns the distinct values of f in t, sorted with French
// collation so accented names sort next to their base letters.
func Options(t *geodata.Table, f Field) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, r := range t.Rows {
		v := f.value(r)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	collate.New(language.French).SortStrings(out)
	return out
}
