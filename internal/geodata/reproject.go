package geodata

import (
	"maps"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Reproject returns a copy of ds with every geometry transformed into
// target. Reprojecting into the dataset's own CRS returns a plain clone.
func Reproject(ds *Dataset, target CRS) (*Dataset, error) {
	if ds == nil {
		return nil, eris.New("geodata: reproject nil dataset")
	}
	transform, err := coordTransform(ds.CRS, target)
	if err != nil {
		return nil, eris.Wrap(err, "geodata: reproject")
	}

	out := &Dataset{
		Source:   ds.Source,
		CRS:      target,
		Columns:  append([]string(nil), ds.Columns...),
		Features: make([]Feature, len(ds.Features)),
		LoadedAt: ds.LoadedAt,
	}
	for i, f := range ds.Features {
		g, err := cloneGeometry(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "geodata: reproject feature %d", i)
		}
		if g != nil {
			if transform != nil {
				geom.TransformInPlace(g, transform)
			}
			if _, err := geom.SetSRID(g, int(target)); err != nil {
				return nil, eris.Wrapf(err, "geodata: set srid on feature %d", i)
			}
		}
		rec := f.Record
		rec.Attributes = maps.Clone(f.Record.Attributes)
		out.Features[i] = Feature{ID: f.ID, Geometry: g, Record: rec}
	}
	return out, nil
}

func cloneGeometry(g geom.T) (geom.T, error) {
	switch t := g.(type) {
	case nil:
		return nil, nil
	case *geom.Point:
		return t.Clone(), nil
	case *geom.LineString:
		return t.Clone(), nil
	case *geom.LinearRing:
		return t.Clone(), nil
	case *geom.Polygon:
		return t.Clone(), nil
	case *geom.MultiPoint:
		return t.Clone(), nil
	case *geom.MultiLineString:
		return t.Clone(), nil
	case *geom.MultiPolygon:
		return t.Clone(), nil
	default:
		return nil, eris.Errorf("geodata: unsupported geometry type %T", g)
	}
}
