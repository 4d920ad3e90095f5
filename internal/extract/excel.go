package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractExcel renders each sheet as one line per data row, pairing cells
// with the header row ("Drug: Metformin; Dose: 500 mg") so a chunk cut out
// of a lab or formulary table still says what each value is.
func extractExcel(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if text := renderSheet(rows); text != "" {
			sheets = append(sheets, text)
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}

func renderSheet(rows [][]string) string {
	var kept [][]string
	for _, row := range rows {
		if strings.TrimSpace(strings.Join(row, "")) != "" {
			kept = append(kept, row)
		}
	}
	switch len(kept) {
	case 0:
		return ""
	case 1:
		return strings.Join(nonEmptyCells(kept[0]), " ")
	}

	header := kept[0]
	lines := make([]string, 0, len(kept)-1)
	for _, row := range kept[1:] {
		var cells []string
		for i, v := range row {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				v = strings.TrimSpace(header[i]) + ": " + v
			}
			cells = append(cells, v)
		}
		lines = append(lines, strings.Join(cells, "; "))
	}
	return strings.Join(lines, "\n")
}

func nonEmptyCells(row []string) []string {
	out := make([]string, 0, len(row))
	for _, v := range row {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
