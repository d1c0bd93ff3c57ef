// Package indicator describes the APL indicator variants and computes the
// per-status counts, numeric summaries and colors the dashboard renders.
package indicator

import (
	_ "embed"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Variant is one indicator: a numeric APL column and the status column
// derived from it, distinguished by the age cutoff of the doctors counted.
type Variant struct {
	Tag          string `yaml:"tag" json:"tag"`
	Title        string `yaml:"title" json:"title"`
	ValueColumn  string `yaml:"value_column" json:"value_column"`
	StatusColumn string `yaml:"status_column" json:"status_column"`
}

// Status is one status bucket and its display color.
type Status struct {
	Label string `yaml:"label" json:"label"`
	Color string `yaml:"color" json:"color"`
}

// Thresholds split numeric APL values into the three status buckets.
type Thresholds struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// Stop is a color at a fractional position of the scale range.
type Stop struct {
	Offset float64 `yaml:"offset" json:"offset"`
	Color  string  `yaml:"color" json:"color"`
}

// ScaleConfig defines the choropleth color scale.
type ScaleConfig struct {
	Min   float64 `yaml:"min" json:"min"`
	Max   float64 `yaml:"max" json:"max"`
	Stops []Stop  `yaml:"stops" json:"stops"`
}

// Catalog is the full indicator configuration.
type Catalog struct {
	Variants   []Variant   `yaml:"variants" json:"variants"`
	Statuses   []Status    `yaml:"statuses" json:"statuses"`
	Thresholds Thresholds  `yaml:"thresholds" json:"thresholds"`
	Scale      ScaleConfig `yaml:"scale" json:"scale"`
}

// DefaultCatalog returns the built-in catalog for the published APL dataset.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic("indicator: embedded catalog: " + err.Error())
	}
	return c
}

// LoadCatalog reads a catalog file. An empty path returns DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "indicator: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML. The document has a
// top-level "indicators" key.
func ParseCatalog(data []byte) (*Catalog, error) {
	var wrapper struct {
		Indicators Catalog `yaml:"indicators"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "indicator: parse catalog")
	}
	c := &wrapper.Indicators
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the catalog for internal consistency.
func (c *Catalog) Validate() error {
	if len(c.Variants) == 0 {
		return eris.New("indicator: catalog has no variants")
	}
	seen := make(map[string]bool, len(c.Variants))
	for i, v := range c.Variants {
		if v.Tag == "" || v.ValueColumn == "" || v.StatusColumn == "" {
			return eris.Errorf("indicator: variant %d needs tag, value_column and status_column", i)
		}
		if seen[v.Tag] {
			return eris.Errorf("indicator: duplicate variant tag %q", v.Tag)
		}
		seen[v.Tag] = true
	}
	if len(c.Statuses) != 3 {
		return eris.Errorf("indicator: expected 3 statuses, got %d", len(c.Statuses))
	}
	for _, s := range c.Statuses {
		if _, err := parseColor(s.Color); err != nil {
			return eris.Wrapf(err, "indicator: status %q", s.Label)
		}
	}
	if c.Thresholds.Low >= c.Thresholds.High {
		return eris.Errorf("indicator: threshold low (%g) must be below high (%g)", c.Thresholds.Low, c.Thresholds.High)
	}
	if _, err := NewColorScale(c.Scale); err != nil {
		return err
	}
	return nil
}

// Variant returns the variant with the given tag.
func (c *Catalog) Variant(tag string) (Variant, bool) {
	for _, v := range c.Variants {
		if v.Tag == tag {
			return v, true
		}
	}
	return Variant{}, false
}

// StatusColor returns the color configured for label, or "" when the label
// is not one of the catalog's statuses.
func (c *Catalog) StatusColor(label string) string {
	for _, s := range c.Statuses {
		if s.Label == label {
			return s.Color
		}
	}
	return ""
}

// Classify returns the status label for a numeric APL value.
func (c *Catalog) Classify(value float64) string {
	switch {
	case value < c.Thresholds.Low:
		return c.Statuses[0].Label
	case value <= c.Thresholds.High:
		return c.Statuses[1].Label
	default:
		return c.Statuses[2].Label
	}
}

// ColorScale builds the catalog's choropleth scale. The catalog was
// validated on load, so the error is only possible for hand-built values.
func (c *Catalog) ColorScale() (*ColorScale, error) {
	return NewColorScale(c.Scale)
}

// CheckSchema returns a ColumnNotFoundError for every variant column that
// t lacks.
func (c *Catalog) CheckSchema(t *geodata.Table) []error {
	var errs []error
	for _, v := range c.Variants {
		for _, col := range []string{v.ValueColumn, v.StatusColumn} {
			if err := RequireColumn(t, col); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// Mismatch is a row whose stored status differs from the one its value
// classifies to.
type Mismatch struct {
	Row     int     `json:"row"`
	City    string  `json:"city"`
	Value   float64 `json:"value"`
	Stored  string  `json:"stored"`
	Derived string  `json:"derived"`
}

// CheckStatuses compares every row's stored status for v with Classify of
// its numeric value. Rows missing either cell are not checked.
func (c *Catalog) CheckStatuses(t *geodata.Table, v Variant) (int, []Mismatch, error) {
	for _, col := range []string{v.ValueColumn, v.StatusColumn} {
		if err := RequireColumn(t, col); err != nil {
			return 0, nil, err
		}
	}

	var checked int
	var out []Mismatch
	for i, row := range t.Rows {
		val, ok := row.Float(v.ValueColumn)
		if !ok || math.IsNaN(val) {
			continue
		}
		cell, _ := row.Value(v.StatusColumn)
		stored, ok := categoryKey(cell)
		if !ok {
			continue
		}
		checked++
		if derived := c.Classify(val); derived != stored {
			out = append(out, Mismatch{Row: i, City: row.City, Value: val, Stored: stored, Derived: derived})
		}
	}
	return checked, out, nil
}
