package docparse

import (
	"regexp"
	"strings"

	"github.com/sells-group/catalog-ingest/internal/model"
)

var (
	columnGapRe  = regexp.MustCompile(`\s{2,}|\t`)
	pipeDivideRe = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
)

// DetectTables finds pipe-delimited blocks and blocks of lines aligned into
// columns by runs of two or more spaces. A block must have at least two
// lines with the same column count. Two-column aligned blocks are read as
// parameter/value lists; wider blocks use their first line as the header.
func DetectTables(text string) []model.Table {
	var tables []model.Table
	var block [][]string
	var pipe bool

	flush := func() {
		if t, ok := toTable(block, pipe); ok {
			tables = append(tables, t)
		}
		block = nil
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}
		if strings.Contains(line, "|") {
			if pipeDivideRe.MatchString(line) {
				continue
			}
			cells := splitPipe(line)
			if len(cells) < 2 {
				flush()
				continue
			}
			if !pipe || (len(block) > 0 && len(block[0]) != len(cells)) {
				flush()
			}
			pipe = true
			block = append(block, cells)
			continue
		}
		cells := columnGapRe.Split(line, -1)
		if len(cells) < 2 {
			flush()
			continue
		}
		if pipe || (len(block) > 0 && len(block[0]) != len(cells)) {
			flush()
		}
		pipe = false
		block = append(block, cells)
	}
	flush()
	return tables
}

func splitPipe(line string) []string {
	line = strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
	parts := strings.Split(line, "|")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func toTable(block [][]string, pipe bool) (model.Table, bool) {
	if len(block) < 2 {
		return model.Table{}, false
	}
	if !pipe && len(block[0]) == 2 {
		return model.Table{Header: []string{"parameter", "value"}, Rows: block}, true
	}
	return model.Table{Header: block[0], Rows: block[1:]}, true
}
