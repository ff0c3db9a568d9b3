package ingest

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXLSX renders every sheet of a workbook as pipe-delimited rows,
// sheets joined by paragraph breaks and prefixed with the sheet name.
func extractXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		var content strings.Builder
		content.WriteString(sheet + "\n")
		for _, row := range rows {
			content.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		sheets = append(sheets, strings.TrimRight(content.String(), "\n"))
	}

	if len(sheets) == 0 {
		return "", fmt.Errorf("no data found in XLSX %s", path)
	}
	return strings.Join(sheets, "\n\n"), nil
}
