package dashboard

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
)

func exportTable() *geodata.Table {
	return &geodata.Table{
		Columns: []string{"Ville", "departement", "APL", "status", "rural"},
		Rows: []geodata.Record{
			{City: "Saint-Denis", Attributes: map[string]any{
				"Ville": "Saint-Denis", "departement": "974", "APL": 2.75, "status": "Offre insuffisante, à surveiller", "rural": false,
			}},
			{City: "Île-de-Sein", Attributes: map[string]any{
				"Ville": "Île-de-Sein", "departement": "29", "APL": nil, "status": nil, "rural": true,
			}},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, exportTable()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Ville", "departement", "APL", "status", "rural"},
		{"Saint-Denis", "974", "2.75", "Offre insuffisante, à surveiller", "false"},
		{"Île-de-Sein", "29", "", "", "true"},
	}, records)
}

func TestWriteCSV_EmptyTableKeepsHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, &geodata.Table{Columns: []string{"Ville", "region"}}))
	assert.Equal(t, "Ville,region\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeXLSX(&buf, exportTable()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[exportSheetName]
	require.True(t, ok)
	require.GreaterOrEqual(t, len(sheet.Rows), 3)

	header := make([]string, 0, 5)
	for _, c := range sheet.Rows[0].Cells {
		header = append(header, c.String())
	}
	assert.Equal(t, exportTable().Columns, header)

	first := sheet.Rows[1].Cells
	assert.Equal(t, "Saint-Denis", first[0].String())
	assert.Equal(t, "974", first[1].String())
	apl, err := first[2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 2.75, apl, 1e-9)
	assert.Equal(t, "Offre insuffisante, à surveiller", first[3].String())
	assert.False(t, first[4].Bool())

	assert.Equal(t, "Île-de-Sein", sheet.Rows[2].Cells[0].String())
}

func TestCellString(t *testing.T) {
	assert.Equal(t, "", cellString(nil))
	assert.Equal(t, "75", cellString("75"))
	assert.Equal(t, "4.6", cellString(4.6))
	assert.Equal(t, "100000", cellString(1e5))
	assert.Equal(t, "true", cellString(true))
	assert.Equal(t, "", cellString([]int{1}))
}
