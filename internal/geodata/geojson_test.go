package geodata

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

const communesGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "id": "75056",
      "properties": {
        "Ville": "Paris",
        "departement": "75",
        "region": "IDF",
        "APL aux médecins généralistes (sans borne d'âge)": 4.6,
        "APL status (sans borne d'âge)": "Offre satisfaisante (APL > 4)"
      },
      "geometry": {"type": "Polygon", "coordinates": [[[2.25,48.82],[2.42,48.82],[2.42,48.90],[2.25,48.90],[2.25,48.82]]]}
    },
    {
      "type": "Feature",
      "id": 69123,
      "properties": {
        "Ville": "Lyon",
        "departement": "69",
        "region": "ARA",
        "APL aux médecins généralistes (sans borne d'âge)": 2.1,
        "APL status (sans borne d'âge)": "Commune carrencée (APL < 2.5)",
        "population": 522250
      },
      "geometry": {"type": "MultiPolygon", "coordinates": [[[[4.77,45.71],[4.90,45.71],[4.90,45.80],[4.77,45.80],[4.77,45.71]]]]}
    },
    {
      "type": "Feature",
      "properties": {
        "Ville": "Île-de-Sein",
        "departement": "29",
        "region": "BRE",
        "APL aux médecins généralistes (sans borne d'âge)": null,
        "APL status (sans borne d'âge)": null
      },
      "geometry": null
    }
  ]
}`

func TestDecodeGeoJSON(t *testing.T) {
	ds, err := DecodeGeoJSON([]byte(communesGeoJSON), "mem://communes")
	require.NoError(t, err)

	assert.Equal(t, "mem://communes", ds.Source)
	assert.Equal(t, EPSG4326, ds.CRS)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, []string{
		"Ville", "departement", "region",
		"APL aux médecins généralistes (sans borne d'âge)",
		"APL status (sans borne d'âge)",
		"population",
	}, ds.Columns)

	paris := ds.Features[0]
	assert.Equal(t, "75056", paris.ID)
	assert.Equal(t, "Paris", paris.Record.City)
	assert.Equal(t, "75", paris.Record.Department)
	assert.Equal(t, "IDF", paris.Record.Region)
	assert.IsType(t, &geom.Polygon{}, paris.Geometry)
	apl, ok := paris.Record.Float("APL aux médecins généralistes (sans borne d'âge)")
	require.True(t, ok)
	assert.InDelta(t, 4.6, apl, 1e-9)

	lyon := ds.Features[1]
	assert.Equal(t, "69123", lyon.ID)
	assert.IsType(t, &geom.MultiPolygon{}, lyon.Geometry)

	sein := ds.Features[2]
	assert.Nil(t, sein.Geometry)
	v, present := sein.Record.Value("APL status (sans borne d'âge)")
	assert.True(t, present)
	assert.Nil(t, v)
	_, ok = sein.Record.Float("APL aux médecins généralistes (sans borne d'âge)")
	assert.False(t, ok)
}

func TestDecodeGeoJSON_NamedCRS(t *testing.T) {
	data := `{"type":"FeatureCollection",
	  "crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::2154"}},
	  "features":[{"type":"Feature","properties":{"Ville":"Bourges","departement":"18","region":"CVL"},
	    "geometry":{"type":"Point","coordinates":[700000,6600000]}}]}`

	ds, err := DecodeGeoJSON([]byte(data), "x")
	require.NoError(t, err)
	assert.Equal(t, EPSG2154, ds.CRS)
}

func TestDecodeGeoJSON_NumericDepartment(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"Ville":"Lyon","departement":69,"region":"ARA"},"geometry":null}]}`

	ds, err := DecodeGeoJSON([]byte(data), "x")
	require.NoError(t, err)
	assert.Equal(t, "69", ds.Features[0].Record.Department)
}

func TestDecodeGeoJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{"not json", `<html>`, "parse geojson"},
		{"wrong type", `{"type":"Feature","features":[]}`, "expected FeatureCollection"},
		{"missing city", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"departement":"75","region":"IDF"},"geometry":null}]}`, `missing required column "Ville"`},
		{"empty region", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"Ville":"Paris","departement":"75","region":""},"geometry":null}]}`, `missing required column "region"`},
		{"null properties", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":null,"geometry":null}]}`, "missing required column"},
		{"bad crs", `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"bogus"}},"features":[]}`, "unrecognized crs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeGeoJSON([]byte(tt.data), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDecodeGeoJSON_EmptyCollection(t *testing.T) {
	ds, err := DecodeGeoJSON([]byte(`{"type":"FeatureCollection","features":[]}`), "x")
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
	assert.Empty(t, ds.Columns)
	assert.Nil(t, ds.Bounds())
}

func TestPropertyKeys(t *testing.T) {
	keys, err := propertyKeys(json.RawMessage(`{"b":1,"a":{"nested":[1,2]},"c":null}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, keys)

	keys, err = propertyKeys(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, keys)

	_, err = propertyKeys(json.RawMessage(`[1,2]`))
	require.Error(t, err)
}

func TestDatasetBounds(t *testing.T) {
	ds, err := DecodeGeoJSON([]byte(communesGeoJSON), "x")
	require.NoError(t, err)

	b := ds.Bounds()
	require.NotNil(t, b)
	assert.InDelta(t, 2.25, b.Min(0), 1e-9)
	assert.InDelta(t, 45.71, b.Min(1), 1e-9)
	assert.InDelta(t, 4.90, b.Max(0), 1e-9)
	assert.InDelta(t, 48.90, b.Max(1), 1e-9)
}

func TestEncodeGeoJSON(t *testing.T) {
	ds, err := DecodeGeoJSON([]byte(communesGeoJSON), "x")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = EncodeGeoJSON(&buf, ds, func(f Feature) map[string]any {
		return map[string]any{"Ville": f.Record.City}
	})
	require.NoError(t, err)

	var out struct {
		Type     string    `json:"type"`
		BBox     []float64 `json:"bbox"`
		Features []struct {
			ID         string         `json:"id"`
			Geometry   any            `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "FeatureCollection", out.Type)
	assert.Len(t, out.BBox, 4)
	require.Len(t, out.Features, 3)
	assert.Equal(t, "75056", out.Features[0].ID)
	assert.Equal(t, map[string]any{"Ville": "Paris"}, out.Features[0].Properties)
	assert.NotNil(t, out.Features[0].Geometry)
	assert.Nil(t, out.Features[2].Geometry)
}
