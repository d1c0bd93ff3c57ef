package dashboard

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
)

// Export formats accepted by the records endpoints.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	contentTypeCSV  = "text/csv; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSheetName = "APL"
)

// writeCSV writes a header row followed by one line per record, columns
// in table order. Null cells are empty.
func writeCSV(w io.Writer, t *geodata.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return eris.Wrap(err, "dashboard: write csv header")
	}
	line := make([]string, len(t.Columns))
	for _, r := range t.Rows {
		for j, col := range t.Columns {
			line[j] = cellString(r.Attributes[col])
		}
		if err := cw.Write(line); err != nil {
			return eris.Wrap(err, "dashboard: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "dashboard: flush csv")
	}
	return nil
}

// writeXLSX writes the table as a single-sheet workbook. Numbers and
// booleans keep their cell types.
func writeXLSX(w io.Writer, t *geodata.Table) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(exportSheetName)
	if err != nil {
		return eris.Wrap(err, "dashboard: add xlsx sheet")
	}

	header := sheet.AddRow()
	for _, col := range t.Columns {
		header.AddCell().SetString(col)
	}
	for _, r := range t.Rows {
		row := sheet.AddRow()
		for _, col := range t.Columns {
			cell := row.AddCell()
			switch v := r.Attributes[col].(type) {
			case nil:
			case float64:
				cell.SetFloat(v)
			case bool:
				cell.SetBool(v)
			default:
				cell.SetString(cellString(v))
			}
		}
	}

	if err := file.Write(w); err != nil {
		return eris.Wrap(err, "dashboard: write xlsx")
	}
	return nil
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
