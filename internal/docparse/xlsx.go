package docparse

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// parseXLSX turns every non-empty sheet into a table whose header is the
// first non-empty row. The bundle text is the tab-joined cell grid so that
// codes in cells can be corroborated against it.
func parseXLSX(data []byte) (*model.ExtractionBundle, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "docparse: open xlsx: %v", err)
	}

	bundle := &model.ExtractionBundle{}
	var text strings.Builder
	for _, sheet := range f.Sheets {
		var table model.Table
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := rowToStrings(row)
			if blank(cells) {
				continue
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteByte('\n')
			if table.Header == nil {
				table.Header = cells
				continue
			}
			table.Rows = append(table.Rows, cells)
		}
		if table.Header != nil {
			bundle.Tables = append(bundle.Tables, table)
		}
		text.WriteByte('\n')
	}
	bundle.Text = strings.TrimSpace(text.String())
	bundle.Pages = len(f.Sheets)
	return bundle, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
