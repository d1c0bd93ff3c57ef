package geodata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

const lambert93PRJ = `PROJCS["RGF_1993_Lambert_93",GEOGCS["GCS_RGF_1993",DATUM["D_RGF_1993",SPHEROID["GRS_1980",6378137.0,298.257222101]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic"],UNIT["Meter",1.0]]`

// square returns a closed clockwise ring, the shapefile orientation for
// outer boundaries.
func square(x, y, size float64) []shp.Point {
	return []shp.Point{
		{X: x, Y: y},
		{X: x, Y: y + size},
		{X: x + size, Y: y + size},
		{X: x + size, Y: y},
		{X: x, Y: y},
	}
}

// reversed returns the ring with opposite orientation.
func reversed(ring []shp.Point) []shp.Point {
	out := make([]shp.Point, len(ring))
	for i, p := range ring {
		out[len(ring)-1-i] = p
	}
	return out
}

type shpRow struct {
	parts  [][]shp.Point
	city   string
	dept   string
	region string
	apl    string // written raw so blanks stay blank
	status string
}

func writeShapefile(t *testing.T, dir string, rows []shpRow) string {
	t.Helper()
	path := filepath.Join(dir, "communes.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("VILLE", 40),
		shp.StringField("departemen", 5),
		shp.StringField("region", 10),
		shp.FloatField("APL", 8, 2),
		shp.StringField("status", 40),
	}))
	for _, r := range rows {
		poly := shp.Polygon(*shp.NewPolyLine(r.parts))
		row := int(w.Write(&poly))
		for i, v := range []string{r.city, r.dept, r.region, r.apl, r.status} {
			require.NoError(t, w.WriteAttribute(row, i, v))
		}
	}
	w.Close()
	fixDBFName(t, path)
	return path
}

// fixDBFName moves the attribute table to its proper name. go-shp's Writer
// saves it as "<base>dbf", without the dot, while shp.Open reads
// "<base>.dbf".
func fixDBFName(t *testing.T, shpPath string) {
	t.Helper()
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	if _, err := os.Stat(base + "dbf"); err == nil {
		require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	}
	_, err := os.Stat(base + ".dbf")
	require.NoError(t, err, "attribute table written")
}

func TestReadShapefile(t *testing.T) {
	dir := t.TempDir()
	path := writeShapefile(t, dir, []shpRow{
		{parts: [][]shp.Point{square(0, 0, 10), reversed(square(2, 2, 2))}, city: "Paris", dept: "75", region: "IDF", apl: "4.60", status: "Offre satisfaisante"},
		{parts: [][]shp.Point{square(20, 0, 5), square(40, 0, 5)}, city: "Lyon", dept: "69", region: "ARA", apl: "", status: ""},
	})

	ds, err := ReadShapefile(path, "mem://shp")
	require.NoError(t, err)

	assert.Equal(t, EPSG4326, ds.CRS)
	assert.Equal(t, []string{"Ville", "departement", "region", "APL", "status"}, ds.Columns)
	require.Equal(t, 2, ds.Len())

	paris := ds.Features[0]
	assert.Equal(t, "0", paris.ID)
	assert.Equal(t, "Paris", paris.Record.City)
	assert.Equal(t, "75", paris.Record.Department)
	apl, ok := paris.Record.Float("APL")
	require.True(t, ok)
	assert.InDelta(t, 4.6, apl, 1e-9)

	mp, ok := paris.Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	require.Equal(t, 1, mp.NumPolygons())
	assert.Equal(t, 2, mp.Polygon(0).NumLinearRings(), "inner ring is a hole")

	lyon := ds.Features[1]
	v, present := lyon.Record.Value("APL")
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Nil(t, lyon.Record.Attributes["status"])
	lmp := lyon.Geometry.(*geom.MultiPolygon)
	assert.Equal(t, 2, lmp.NumPolygons(), "two outer rings are two polygons")
}

func TestReadShapefile_PRJ(t *testing.T) {
	dir := t.TempDir()
	path := writeShapefile(t, dir, []shpRow{
		{parts: [][]shp.Point{square(700000, 6600000, 1000)}, city: "Bourges", dept: "18", region: "CVL", apl: "3.10", status: "x"},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "communes.prj"), []byte(lambert93PRJ), 0o644))

	ds, err := ReadShapefile(path, "mem://shp")
	require.NoError(t, err)
	assert.Equal(t, EPSG2154, ds.CRS)
	assert.Equal(t, 2154, ds.Features[0].Geometry.SRID())
}

func TestReadShapefile_Windows1252Fallback(t *testing.T) {
	dir := t.TempDir()
	path := writeShapefile(t, dir, []shpRow{
		{parts: [][]shp.Point{square(0, 0, 1)}, city: "Orl\xe9ans", dept: "45", region: "CVL", apl: "2.00", status: "x"},
	})

	ds, err := ReadShapefile(path, "mem://shp")
	require.NoError(t, err)
	assert.Equal(t, "Orléans", ds.Features[0].Record.City)
}

func TestReadShapefile_CPG(t *testing.T) {
	dir := t.TempDir()
	path := writeShapefile(t, dir, []shpRow{
		{parts: [][]shp.Point{square(0, 0, 1)}, city: "Montr\xe9al", dept: "01", region: "ARA", apl: "1.00", status: "x"},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "communes.cpg"), []byte("1252\n"), 0o644))

	ds, err := ReadShapefile(path, "mem://shp")
	require.NoError(t, err)
	assert.Equal(t, "Montréal", ds.Features[0].Record.City)
}

func TestReadShapefile_MissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	path := writeShapefile(t, dir, []shpRow{
		{parts: [][]shp.Point{square(0, 0, 1)}, city: "", dept: "45", region: "CVL", apl: "", status: ""},
	})

	_, err := ReadShapefile(path, "mem://shp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required column "Ville"`)
}

func TestReadShapefile_Missing(t *testing.T) {
	_, err := ReadShapefile(filepath.Join(t.TempDir(), "nope.shp"), "mem://shp")
	require.Error(t, err)
}

func TestLookupCodePage(t *testing.T) {
	for _, name := range []string{"", "UTF-8", "utf8", "65001"} {
		enc, err := LookupCodePage(name)
		require.NoError(t, err, name)
		assert.Nil(t, enc, name)
	}
	for _, name := range []string{"1252", "windows-1252", "ISO-8859-1", "8859_15", "88591"} {
		enc, err := LookupCodePage(name)
		require.NoError(t, err, name)
		assert.NotNil(t, enc, name)
	}
	_, err := LookupCodePage("klingon")
	require.Error(t, err)
}

func TestDBFValue(t *testing.T) {
	assert.Nil(t, dbfValue('C', "   "))
	assert.Equal(t, "abc", dbfValue('C', "abc"))
	assert.Equal(t, 12.5, dbfValue('N', "12.5"))
	assert.Equal(t, 3.0, dbfValue('F', " 3 "))
	assert.Equal(t, "n/a", dbfValue('N', "n/a"))
	assert.Equal(t, true, dbfValue('L', "T"))
	assert.Equal(t, false, dbfValue('L', "n"))
	assert.Nil(t, dbfValue('L', "?"))
}

func TestCanonicalColumn(t *testing.T) {
	assert.Equal(t, ColumnCity, canonicalColumn("VILLE"))
	assert.Equal(t, ColumnDepartment, canonicalColumn("departemen"))
	assert.Equal(t, ColumnRegion, canonicalColumn("Region"))
	assert.Equal(t, "APL_65", canonicalColumn("APL_65"))
}
