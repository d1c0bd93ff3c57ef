package indicator

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
)

// Bucket is one category and how many rows carry it.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// StatusCount holds category counts for one column, in order of first
// appearance.
type StatusCount struct {
	Column  string   `json:"column"`
	Buckets []Bucket `json:"buckets"`
}

// Total is the number of non-null rows counted.
func (s StatusCount) Total() int {
	n := 0
	for _, b := range s.Buckets {
		n += b.Count
	}
	return n
}

// Get returns the count for label.
func (s StatusCount) Get(label string) (int, bool) {
	for _, b := range s.Buckets {
		if b.Label == label {
			return b.Count, true
		}
	}
	return 0, false
}

// CountByCategory counts every distinct non-null value of column. Null
// values are skipped rather than bucketed.
func CountByCategory(t *geodata.Table, column string) (StatusCount, error) {
	if err := RequireColumn(t, column); err != nil {
		return StatusCount{}, err
	}

	sc := StatusCount{Column: column, Buckets: []Bucket{}}
	index := make(map[string]int)
	for _, row := range t.Rows {
		v, _ := row.Value(column)
		label, ok := categoryKey(v)
		if !ok {
			continue
		}
		i, seen := index[label]
		if !seen {
			i = len(sc.Buckets)
			index[label] = i
			sc.Buckets = append(sc.Buckets, Bucket{Label: label})
		}
		sc.Buckets[i].Count++
	}
	return sc, nil
}

// categoryKey returns the canonical label of a cell, false for null.
func categoryKey(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// VariantCount is the status count of one variant, or the error that
// prevented computing it.
type VariantCount struct {
	Variant Variant
	Counts  StatusCount
	Err     error
}

// CountVariants computes the status counts of every variant concurrently.
// A missing column fails only its own variant; the returned error is set
// only when ctx is done.
func CountVariants(ctx context.Context, t *geodata.Table, variants []Variant) ([]VariantCount, error) {
	out := make([]VariantCount, len(variants))
	g, ctx := errgroup.WithContext(ctx)
	for i, v := range variants {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sc, err := CountByCategory(t, v.StatusColumn)
			if err != nil {
				zap.L().Debug("indicator: variant count failed",
					zap.String("variant", v.Tag),
					zap.Error(err),
				)
			}
			out[i] = VariantCount{Variant: v, Counts: sc, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary describes the non-null numeric values of a column.
type Summary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Nulls  int     `json:"nulls"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
}

// NumericSummary computes min, max and mean over the numeric values of
// column. Null and non-numeric cells count as nulls.
func NumericSummary(t *geodata.Table, column string) (Summary, error) {
	if err := RequireColumn(t, column); err != nil {
		return Summary{}, err
	}

	s := Summary{Column: column, Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, row := range t.Rows {
		f, ok := row.Float(column)
		if !ok || math.IsNaN(f) {
			s.Nulls++
			continue
		}
		s.Count++
		sum += f
		s.Min = math.Min(s.Min, f)
		s.Max = math.Max(s.Max, f)
	}
	if s.Count == 0 {
		s.Min, s.Max = 0, 0
		return s, nil
	}
	s.Mean = sum / float64(s.Count)
	return s, nil
}
