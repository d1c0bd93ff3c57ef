package indicator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
)

// Labels of the built-in catalog's statuses.
const (
	underserved  = "Commune carrencée (APL < 2.5)"
	insufficient = "Offre insuffisante (2.5 < APL < 4)"
	satisfactory = "Offre satisfaisante (APL > 4)"
)

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()

	require.Len(t, cat.Variants, 3)
	tags := []string{cat.Variants[0].Tag, cat.Variants[1].Tag, cat.Variants[2].Tag}
	assert.Equal(t, []string{"all", "65", "62"}, tags)

	v, ok := cat.Variant("65")
	require.True(t, ok)
	assert.Equal(t, "APL aux médecins généralistes de 65 ans et moins", v.ValueColumn)
	assert.Equal(t, "APL status 65 et moins", v.StatusColumn)

	_, ok = cat.Variant("70")
	assert.False(t, ok)

	assert.Equal(t, 2.5, cat.Thresholds.Low)
	assert.Equal(t, 4.0, cat.Thresholds.High)
	assert.Len(t, cat.Scale.Stops, 4)
}

func TestCatalog_StatusColor(t *testing.T) {
	cat := DefaultCatalog()
	assert.Equal(t, "red", cat.StatusColor(underserved))
	assert.Equal(t, "orange", cat.StatusColor(insufficient))
	assert.Equal(t, "green", cat.StatusColor(satisfactory))
	assert.Equal(t, "", cat.StatusColor("Statut inconnu"))
	assert.Equal(t, "", cat.StatusColor("commune carrencée (apl < 2.5)"), "labels are case-sensitive")
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, cat.Variants, 3)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
indicators:
  variants:
    - tag: all
      value_column: apl
      status_column: status
  statuses:
    - {label: low, color: "#aa0000"}
    - {label: mid, color: orange}
    - {label: high, color: green}
  thresholds: {low: 2, high: 3.5}
  scale:
    min: 0
    max: 5
    stops:
      - {offset: 0, color: red}
      - {offset: 1, color: green}
`), 0o644))

	cat, err = LoadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, cat.Variants, 1)
	assert.Equal(t, "low", cat.Classify(1.99))
	assert.Equal(t, "mid", cat.Classify(3.5))
	assert.Equal(t, "high", cat.Classify(3.51))

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indicator: read catalog")
}

func TestParseCatalog_Invalid(t *testing.T) {
	base := func(body string) []byte { return []byte("indicators:\n" + body) }
	variants := `
  variants:
    - {tag: all, value_column: apl, status_column: status}`
	statuses := `
  statuses:
    - {label: a, color: red}
    - {label: b, color: orange}
    - {label: c, color: green}`
	scale := `
  scale: {min: 0, max: 4, stops: [{offset: 0, color: red}, {offset: 1, color: white}]}`

	tests := []struct {
		name    string
		data    []byte
		wantMsg string
	}{
		{"bad yaml", []byte("indicators: ["), "parse catalog"},
		{"no variants", base(statuses + "\n  thresholds: {low: 1, high: 2}" + scale), "no variants"},
		{"duplicate tag", base(variants + "\n    - {tag: all, value_column: x, status_column: y}" + statuses + "\n  thresholds: {low: 1, high: 2}" + scale), "duplicate variant tag"},
		{"missing column", base("\n  variants:\n    - {tag: all, value_column: apl}" + statuses + "\n  thresholds: {low: 1, high: 2}" + scale), "needs tag"},
		{"two statuses", base(variants + "\n  statuses:\n    - {label: a, color: red}\n    - {label: b, color: red}" + "\n  thresholds: {low: 1, high: 2}" + scale), "expected 3 statuses"},
		{"bad color", base(variants + "\n  statuses:\n    - {label: a, color: mauve}\n    - {label: b, color: red}\n    - {label: c, color: red}" + "\n  thresholds: {low: 1, high: 2}" + scale), "unknown color"},
		{"inverted thresholds", base(variants + statuses + "\n  thresholds: {low: 4, high: 2.5}" + scale), "must be below high"},
		{"bad scale", base(variants + statuses + "\n  thresholds: {low: 1, high: 2}\n  scale: {min: 0, max: 4, stops: [{offset: 0.1, color: red}, {offset: 1, color: white}]}"), "span 0 to 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestClassify_DefaultThresholds(t *testing.T) {
	cat := DefaultCatalog()
	tests := []struct {
		value float64
		want  string
	}{
		{0, underserved},
		{2.49, underserved},
		{2.5, insufficient},
		{4, insufficient},
		{4.01, satisfactory},
		{12, satisfactory},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cat.Classify(tt.value), "value %v", tt.value)
	}
}

func TestCheckSchema(t *testing.T) {
	cat := DefaultCatalog()
	all := cat.Variants[0]

	tbl := &geodata.Table{Columns: []string{geodata.ColumnCity, all.ValueColumn, all.StatusColumn}}
	errs := cat.CheckSchema(tbl)
	assert.Len(t, errs, 4, "65 and 62 variants each miss two columns")
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrColumnNotFound)
	}

	full := &geodata.Table{}
	for _, v := range cat.Variants {
		full.Columns = append(full.Columns, v.ValueColumn, v.StatusColumn)
	}
	assert.Empty(t, cat.CheckSchema(full))
}

func TestCheckStatuses(t *testing.T) {
	cat := DefaultCatalog()
	all := cat.Variants[0]
	tbl := &geodata.Table{
		Columns: []string{geodata.ColumnCity, all.ValueColumn, all.StatusColumn},
		Rows: []geodata.Record{
			row("Paris", "75", "IDF", map[string]any{all.ValueColumn: 4.6, all.StatusColumn: satisfactory}),
			row("Lyon", "69", "ARA", map[string]any{all.ValueColumn: 2.1, all.StatusColumn: insufficient}),
			row("Vienne", "38", "ARA", map[string]any{all.ValueColumn: "3.0", all.StatusColumn: insufficient}),
			row("Givors", "69", "ARA", map[string]any{all.ValueColumn: 1.9, all.StatusColumn: nil}),
			row("Île-de-Sein", "29", "BRE", map[string]any{all.ValueColumn: nil, all.StatusColumn: underserved}),
		},
	}

	checked, mismatches, err := cat.CheckStatuses(tbl, all)
	require.NoError(t, err)
	assert.Equal(t, 3, checked)
	assert.Equal(t, []Mismatch{{Row: 1, City: "Lyon", Value: 2.1, Stored: insufficient, Derived: underserved}}, mismatches)

	_, _, err = cat.CheckStatuses(tbl, cat.Variants[1])
	assert.ErrorIs(t, err, ErrColumnNotFound)
}
