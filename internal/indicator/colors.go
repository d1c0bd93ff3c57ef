package indicator

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

type rgb struct{ r, g, b float64 }

func (c rgb) hex() string {
	return fmt.Sprintf("#%02x%02x%02x",
		uint8(math.Round(c.r)), uint8(math.Round(c.g)), uint8(math.Round(c.b)))
}

var namedColors = map[string]rgb{
	"red":    {255, 0, 0},
	"orange": {255, 165, 0},
	"yellow": {255, 255, 0},
	"green":  {0, 128, 0},
	"white":  {255, 255, 255},
	"black":  {0, 0, 0},
	"grey":   {128, 128, 128},
	"gray":   {128, 128, 128},
}

// parseColor accepts a named color or #rrggbb.
func parseColor(s string) (rgb, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	if len(s) == 7 && s[0] == '#' {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err == nil {
			return rgb{float64(v >> 16 & 0xff), float64(v >> 8 & 0xff), float64(v & 0xff)}, nil
		}
	}
	return rgb{}, eris.Errorf("indicator: unknown color %q", s)
}

type scaleStop struct {
	offset float64
	color  rgb
}

// ColorScale linearly interpolates colors over [Min, Max]. Values outside
// the range are clamped to the end stops.
type ColorScale struct {
	min, max float64
	stops    []scaleStop
}

// NewColorScale validates cfg and builds a scale. Stops must start at 0,
// end at 1 and be in ascending order.
func NewColorScale(cfg ScaleConfig) (*ColorScale, error) {
	if !(cfg.Min < cfg.Max) {
		return nil, eris.Errorf("indicator: scale min (%g) must be below max (%g)", cfg.Min, cfg.Max)
	}
	if len(cfg.Stops) < 2 {
		return nil, eris.New("indicator: scale needs at least two stops")
	}
	s := &ColorScale{min: cfg.Min, max: cfg.Max, stops: make([]scaleStop, len(cfg.Stops))}
	for i, st := range cfg.Stops {
		c, err := parseColor(st.Color)
		if err != nil {
			return nil, err
		}
		if i > 0 && st.Offset < cfg.Stops[i-1].Offset {
			return nil, eris.New("indicator: scale stops must be ascending")
		}
		s.stops[i] = scaleStop{offset: st.Offset, color: c}
	}
	if s.stops[0].offset != 0 || s.stops[len(s.stops)-1].offset != 1 {
		return nil, eris.New("indicator: scale stops must span 0 to 1")
	}
	return s, nil
}

// Range returns the value range the scale spans.
func (s *ColorScale) Range() (float64, float64) {
	return s.min, s.max
}

// Color returns the #rrggbb color for v.
func (s *ColorScale) Color(v float64) string {
	t := (v - s.min) / (s.max - s.min)
	switch {
	case math.IsNaN(t):
		return ""
	case t <= 0:
		return s.stops[0].color.hex()
	case t >= 1:
		return s.stops[len(s.stops)-1].color.hex()
	}

	// First stop strictly above t; t lies between i-1 and i.
	i := sort.Search(len(s.stops), func(i int) bool { return s.stops[i].offset > t })
	lo, hi := s.stops[i-1], s.stops[i]
	f := (t - lo.offset) / (hi.offset - lo.offset)
	return rgb{
		r: lo.color.r + f*(hi.color.r-lo.color.r),
		g: lo.color.g + f*(hi.color.g-lo.color.g),
		b: lo.color.b + f*(hi.color.b-lo.color.b),
	}.hex()
}
