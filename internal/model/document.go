package model

import "strings"

// Hints carries caller-supplied identity hints for a document. Every field
// is optional.
type Hints struct {
	Family      string `json:"family,omitempty"`
	Brand       string `json:"brand,omitempty"`
	Code        string `json:"code,omitempty"`
	Series      string `json:"series,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// SourceDocument is an immutable reference to a datasheet plus its hints.
type SourceDocument struct {
	Ref   string `json:"ref"`
	Hints Hints  `json:"hints"`
}

// Table is a parsed table: one header row plus body cell text.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// ExtractionBundle aggregates everything known about a document for one run.
// It is never persisted.
type ExtractionBundle struct {
	Text         string         `json:"text"`
	Tables       []Table        `json:"tables,omitempty"`
	OracleFields map[string]any `json:"oracle_fields,omitempty"`
	OracleCodes  []string       `json:"oracle_codes,omitempty"`
	OracleFamily string         `json:"oracle_family,omitempty"`
	Pages        int            `json:"pages,omitempty"`
}

// Empty reports whether the bundle carries no usable content at all.
func (b *ExtractionBundle) Empty() bool {
	if b == nil {
		return true
	}
	return b.Text == "" && len(b.Tables) == 0 && len(b.OracleFields) == 0 && len(b.OracleCodes) == 0
}

// DocumentText returns the free text followed by every table header and
// row, one line each. Verbatim checks run against it so a code printed only
// in a table still counts as present in the document.
func (b *ExtractionBundle) DocumentText() string {
	if b == nil {
		return ""
	}
	if len(b.Tables) == 0 {
		return b.Text
	}
	var sb strings.Builder
	sb.WriteString(b.Text)
	for _, t := range b.Tables {
		for _, line := range append([][]string{t.Header}, t.Rows...) {
			if len(line) == 0 {
				continue
			}
			sb.WriteByte('\n')
			sb.WriteString(strings.Join(line, " | "))
		}
	}
	return sb.String()
}

// DocType classifies a document by how many items it describes.
type DocType string

const (
	DocTypeSingle   DocType = "single"   // one item
	DocTypeCatalog  DocType = "catalog"  // several explicit codes
	DocTypeOrdering DocType = "ordering" // enumerated ordering-code section
)
