package geodata

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// CRS identifies a coordinate reference system by EPSG code.
type CRS int

// Supported coordinate reference systems.
const (
	EPSG4326 CRS = 4326 // WGS84 geographic lon/lat
	EPSG3857 CRS = 3857 // Web Mercator
	EPSG2154 CRS = 2154 // RGF93 / Lambert-93
)

func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", int(c))
}

// Supported reports whether coordinates can be transformed to and from c.
func (c CRS) Supported() bool {
	switch c {
	case EPSG4326, EPSG3857, EPSG2154:
		return true
	default:
		return false
	}
}

var (
	epsgCodeRe     = regexp.MustCompile(`(?i)EPSG:{1,2}(?:[0-9.]*:)?(\d+)$`)
	prjAuthorityRe = regexp.MustCompile(`AUTHORITY\["EPSG","(\d+)"\]\]$`)
)

// ParseCRS parses "EPSG:2154", "urn:ogc:def:crs:EPSG::2154",
// "urn:ogc:def:crs:OGC:1.3:CRS84" or a bare code.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, eris.New("geodata: empty crs")
	}
	if strings.HasSuffix(strings.ToUpper(s), "CRS84") {
		return EPSG4326, nil
	}
	code := s
	if m := epsgCodeRe.FindStringSubmatch(s); m != nil {
		code = m[1]
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0, eris.Errorf("geodata: unrecognized crs %q", s)
	}
	return CRS(n), nil
}

// crsFromGeoJSON reads the legacy top-level "crs" member. Named CRSs carry
// properties.name; the older "EPSG" type carries properties.code.
func crsFromGeoJSON(c *geojson.CRS) (CRS, error) {
	if c == nil {
		return EPSG4326, nil
	}
	if name, ok := c.Properties["name"].(string); ok {
		return ParseCRS(name)
	}
	if code, ok := c.Properties["code"].(float64); ok {
		return CRS(int(code)), nil
	}
	return 0, eris.Errorf("geodata: unsupported crs member of type %q", c.Type)
}

// CRSFromPRJ sniffs the WKT of a shapefile .prj for the projections the
// published APL datasets use. An empty .prj means WGS84.
func CRSFromPRJ(wkt string) (CRS, error) {
	wkt = strings.TrimSpace(wkt)
	w := strings.ToUpper(strings.ReplaceAll(wkt, " ", "_"))
	switch {
	case w == "":
		return EPSG4326, nil
	case strings.Contains(w, "LAMBERT-93"), strings.Contains(w, "LAMBERT_93"),
		strings.Contains(w, "RGF93_LAMBERT"), strings.Contains(w, "RGF_1993_LAMBERT"):
		return EPSG2154, nil
	case strings.Contains(w, "PSEUDO-MERCATOR"), strings.Contains(w, "PSEUDO_MERCATOR"),
		strings.Contains(w, "MERCATOR_AUXILIARY_SPHERE"), strings.Contains(w, "POPULAR_VISUALISATION"):
		return EPSG3857, nil
	case strings.HasPrefix(w, "GEOGCS") && (strings.Contains(w, "WGS_1984") || strings.Contains(w, "WGS_84") ||
		strings.Contains(w, "RGF93") || strings.Contains(w, "RGF_1993") || strings.Contains(w, "ETRS")):
		return EPSG4326, nil
	}
	if m := prjAuthorityRe.FindStringSubmatch(wkt); m != nil {
		n, _ := strconv.Atoi(m[1])
		return CRS(n), nil
	}
	return 0, eris.Errorf("geodata: unrecognized projection %.60q", wkt)
}

// GRS80 ellipsoid (RGF93). ETRS89/RGF93 and WGS84 agree to well under a
// metre, so lon/lat from Lambert-93 is used as WGS84 directly.
const (
	grs80A = 6378137.0
	grs80F = 1 / 298.257222101
)

// Lambert-93 projection parameters.
const (
	l93Lon0 = 3.0
	l93Lat0 = 46.5
	l93Lat1 = 49.0
	l93Lat2 = 44.0
	l93X0   = 700000.0
	l93Y0   = 6600000.0
)

type lambertConic struct {
	e, n, f, rho0 float64
}

var lambert93 = newLambertConic()

func newLambertConic() lambertConic {
	e := math.Sqrt(grs80F * (2 - grs80F))
	m := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Cos(phi) / math.Sqrt(1-e*e*s*s)
	}
	t := func(phi float64) float64 {
		s := math.Sin(phi)
		return math.Tan(math.Pi/4-phi/2) / math.Pow((1-e*s)/(1+e*s), e/2)
	}
	phi1, phi2, phi0 := radians(l93Lat1), radians(l93Lat2), radians(l93Lat0)
	n := (math.Log(m(phi1)) - math.Log(m(phi2))) / (math.Log(t(phi1)) - math.Log(t(phi2)))
	f := m(phi1) / (n * math.Pow(t(phi1), n))
	return lambertConic{e: e, n: n, f: f, rho0: grs80A * f * math.Pow(t(phi0), n)}
}

func (l lambertConic) forward(lon, lat float64) (x, y float64) {
	phi := radians(lat)
	s := math.Sin(phi)
	t := math.Tan(math.Pi/4-phi/2) / math.Pow((1-l.e*s)/(1+l.e*s), l.e/2)
	rho := grs80A * l.f * math.Pow(t, l.n)
	theta := l.n * radians(lon-l93Lon0)
	return l93X0 + rho*math.Sin(theta), l93Y0 + l.rho0 - rho*math.Cos(theta)
}

func (l lambertConic) inverse(x, y float64) (lon, lat float64) {
	dx, dy := x-l93X0, l.rho0-(y-l93Y0)
	rho := math.Copysign(math.Hypot(dx, dy), l.n)
	t := math.Pow(rho/(grs80A*l.f), 1/l.n)
	theta := math.Atan2(dx, dy)

	phi := math.Pi/2 - 2*math.Atan(t)
	for range 15 {
		s := math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-l.e*s)/(1+l.e*s), l.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	return degrees(theta/l.n) + l93Lon0, degrees(phi)
}

const mercatorR = 6378137.0

func mercatorForward(lon, lat float64) (x, y float64) {
	return mercatorR * radians(lon), mercatorR * math.Log(math.Tan(math.Pi/4+radians(lat)/2))
}

func mercatorInverse(x, y float64) (lon, lat float64) {
	return degrees(x / mercatorR), degrees(2*math.Atan(math.Exp(y/mercatorR)) - math.Pi/2)
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }

// toWGS84 and fromWGS84 pivot every transformation through lon/lat.
func toWGS84(c CRS) func(x, y float64) (float64, float64) {
	switch c {
	case EPSG2154:
		return lambert93.inverse
	case EPSG3857:
		return mercatorInverse
	default:
		return nil
	}
}

func fromWGS84(c CRS) func(lon, lat float64) (float64, float64) {
	switch c {
	case EPSG2154:
		return lambert93.forward
	case EPSG3857:
		return mercatorForward
	default:
		return nil
	}
}

// coordTransform returns an in-place coordinate transform from src to dst,
// or nil when the two are the same system.
func coordTransform(src, dst CRS) (func(geom.Coord), error) {
	if !src.Supported() {
		return nil, eris.Errorf("geodata: unsupported source crs %s", src)
	}
	if !dst.Supported() {
		return nil, eris.Errorf("geodata: unsupported target crs %s", dst)
	}
	if src == dst {
		return nil, nil
	}
	in, out := toWGS84(src), fromWGS84(dst)
	return func(c geom.Coord) {
		x, y := c[0], c[1]
		if in != nil {
			x, y = in(x, y)
		}
		if out != nil {
			x, y = out(x, y)
		}
		c[0], c[1] = x, y
	}, nil
}
