package geodata

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// geojsonEnvelope captures the members geojson.FeatureCollection drops:
// the legacy crs object and each feature's raw properties.
type geojsonEnvelope struct {
	Type     string            `json:"type"`
	CRS      *geojson.CRS      `json:"crs"`
	Features []json.RawMessage `json:"features"`
}

type rawProperties struct {
	Properties json.RawMessage `json:"properties"`
}

// DecodeGeoJSON parses a GeoJSON FeatureCollection into a Dataset in the
// collection's declared CRS (EPSG:4326 when none is declared).
func DecodeGeoJSON(data []byte, source string) (*Dataset, error) {
	var env geojsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, eris.Wrap(err, "geodata: parse geojson")
	}
	if env.Type != "FeatureCollection" {
		return nil, eris.Errorf("geodata: expected FeatureCollection, got %q", env.Type)
	}
	crs, err := crsFromGeoJSON(env.CRS)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Source:   source,
		CRS:      crs,
		Features: make([]Feature, 0, len(env.Features)),
		LoadedAt: time.Now(),
	}
	seen := make(map[string]bool)
	for i, raw := range env.Features {
		var f geojson.Feature
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, eris.Wrapf(err, "geodata: feature %d", i)
		}
		rec, err := newRecord(f.Properties)
		if err != nil {
			return nil, eris.Wrapf(err, "geodata: feature %d", i)
		}

		var rp rawProperties
		if err := json.Unmarshal(raw, &rp); err != nil {
			return nil, eris.Wrapf(err, "geodata: feature %d properties", i)
		}
		keys, err := propertyKeys(rp.Properties)
		if err != nil {
			return nil, eris.Wrapf(err, "geodata: feature %d properties", i)
		}
		for _, k := range keys {
			if k == ColumnGeometry || seen[k] {
				continue
			}
			seen[k] = true
			ds.Columns = append(ds.Columns, k)
		}

		ds.Features = append(ds.Features, Feature{ID: f.ID, Geometry: f.Geometry, Record: rec})
	}
	return ds, nil
}

// propertyKeys returns the member names of a JSON object in document order.
func propertyKeys(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, eris.New("properties is not an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, eris.Errorf("unexpected token %v", tok)
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// EncodeGeoJSON writes ds as a FeatureCollection. props, when non-nil, maps
// each feature to the properties to emit; otherwise all attributes are
// written. The collection carries a bbox when ds has any geometry.
func EncodeGeoJSON(w io.Writer, ds *Dataset, props func(Feature) map[string]any) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(ds.Features))}
	if b := ds.Bounds(); b != nil {
		fc.BBox = geom.NewBounds(geom.XY).Set(b.Min(0), b.Min(1), b.Max(0), b.Max(1))
	}
	for _, f := range ds.Features {
		p := f.Record.Attributes
		if props != nil {
			p = props(f)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         f.ID,
			Geometry:   f.Geometry,
			Properties: p,
		})
	}
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		return eris.Wrap(err, "geodata: encode geojson")
	}
	return nil
}
