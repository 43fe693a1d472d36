package local

import (
	"bytes"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/doc-curator/internal/core/domain"
)

// readWorkbook yields one unit per non-empty sheet; cells are tab-separated.
func readWorkbook(data []byte) ([]unit, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrExtractionFailed, "open workbook", err)
	}
	defer f.Close()

	out := make([]unit, 0)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, domain.WrapError(domain.ErrExtractionFailed, "read sheet "+sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			out = append(out, unit{text: text, sheetName: sheet})
		}
	}
	return out, nil
}
