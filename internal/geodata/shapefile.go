package geodata

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// DBF limits field names to 10 characters; longer column names arrive
// truncated.
const dbfNameLen = 10

// ReadShapefile decodes the shapefile at shpPath together with its sibling
// .dbf, .prj and .cpg files.
func ReadShapefile(shpPath, source string) (*Dataset, error) {
	crs, err := readPRJ(shpPath)
	if err != nil {
		return nil, err
	}
	dec, err := readCPG(shpPath)
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "geodata: open shapefile %s", filepath.Base(shpPath))
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	if len(fields) == 0 {
		return nil, eris.Errorf("geodata: shapefile %s has no attribute table", filepath.Base(shpPath))
	}
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = canonicalColumn(f.String())
	}

	ds := &Dataset{
		Source:   source,
		CRS:      crs,
		Columns:  columns,
		LoadedAt: time.Now(),
	}
	var skippedRings int
	for reader.Next() {
		n, shape := reader.Shape()

		props := make(map[string]any, len(fields))
		for i, f := range fields {
			props[columns[i]] = dbfValue(f.Fieldtype, decodeDBF(dec, reader.Attribute(i)))
		}
		rec, err := newRecord(props)
		if err != nil {
			return nil, eris.Wrapf(err, "geodata: shapefile record %d", n)
		}

		g, skipped := shapeGeometry(shape, crs)
		skippedRings += skipped
		ds.Features = append(ds.Features, Feature{ID: strconv.Itoa(n), Geometry: g, Record: rec})
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrapf(err, "geodata: read shapefile %s", filepath.Base(shpPath))
	}
	if skippedRings > 0 {
		zap.L().Debug("geodata: skipped malformed shapefile rings",
			zap.String("source", source),
			zap.Int("skipped", skippedRings),
		)
	}
	return ds, nil
}

// canonicalColumn restores a required column name from its DBF form, which
// may differ in case or be truncated.
func canonicalColumn(name string) string {
	for _, col := range RequiredColumns {
		short := col
		if len(short) > dbfNameLen {
			short = short[:dbfNameLen]
		}
		if strings.EqualFold(name, col) || strings.EqualFold(name, short) {
			return col
		}
	}
	return name
}

func readPRJ(shpPath string) (CRS, error) {
	data, err := os.ReadFile(siblingPath(shpPath, ".prj"))
	if errors.Is(err, os.ErrNotExist) {
		return EPSG4326, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "geodata: read prj")
	}
	return CRSFromPRJ(string(data))
}

// readCPG resolves the DBF code page. A nil decoder means attributes are
// UTF-8 with a Windows-1252 fallback for invalid sequences.
func readCPG(shpPath string) (*encoding.Decoder, error) {
	data, err := os.ReadFile(siblingPath(shpPath, ".cpg"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "geodata: read cpg")
	}
	enc, err := LookupCodePage(string(data))
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, nil
	}
	return enc.NewDecoder(), nil
}

// LookupCodePage resolves a .cpg code page name. It returns nil for UTF-8.
func LookupCodePage(name string) (encoding.Encoding, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch {
	case name == "", name == "utf-8", name == "utf8", name == "65001":
		return nil, nil
	case strings.HasPrefix(name, "8859"):
		name = "iso-8859-" + strings.TrimLeft(strings.TrimPrefix(name, "8859"), "_-")
	case isDigits(name):
		name = "windows-" + name
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, eris.Wrapf(err, "geodata: unsupported code page %q", name)
	}
	return enc, nil
}

func decodeDBF(dec *encoding.Decoder, s string) string {
	if dec == nil {
		if utf8.ValidString(s) {
			return s
		}
		dec = charmap.Windows1252.NewDecoder()
	}
	out, err := dec.String(s)
	if err != nil {
		return s
	}
	return out
}

// dbfValue converts a DBF attribute string by field type. Blank values are
// null; unparseable numbers keep their text.
func dbfValue(fieldType byte, s string) any {
	s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
	if s == "" {
		return nil
	}
	switch fieldType {
	case 'N', 'F':
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case 'L':
		switch s {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		default:
			return nil
		}
	}
	return s
}

// shapeGeometry converts polygon shapes to a MultiPolygon. Clockwise rings
// start a new polygon; counter-clockwise rings are holes of the preceding
// one. Other shape types have no geometry.
func shapeGeometry(shape shp.Shape, crs CRS) (geom.T, int) {
	var (
		parts  []int32
		points []shp.Point
	)
	switch s := shape.(type) {
	case *shp.Polygon:
		parts, points = s.Parts, s.Points
	case *shp.PolygonZ:
		parts, points = s.Parts, s.Points
	case *shp.PolygonM:
		parts, points = s.Parts, s.Points
	default:
		return nil, 0
	}
	if len(parts) == 0 || len(points) == 0 {
		return nil, 0
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(int(crs))
	var (
		current *geom.Polygon
		skipped int
	)
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			skipped++
		}
		current = nil
	}
	for i := range parts {
		start, end := int(parts[i]), len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if start < 0 || end > len(points) || end-start < 4 {
			skipped++
			continue
		}
		flat := make([]float64, 0, (end-start)*2)
		for _, p := range points[start:end] {
			flat = append(flat, p.X, p.Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		hole := xy.SignedArea(geom.XY, flat) < 0
		if hole && current != nil {
			if err := current.Push(ring); err != nil {
				skipped++
			}
			continue
		}
		flush()
		current = geom.NewPolygon(geom.XY)
		if err := current.Push(ring); err != nil {
			skipped++
			current = nil
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil, skipped
	}
	return mp, skipped
}

func siblingPath(shpPath, ext string) string {
	return strings.TrimSuffix(shpPath, filepath.Ext(shpPath)) + ext
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
