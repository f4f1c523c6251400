// Package docparse turns raw datasheet bytes into an extraction bundle of
// text and tables.
package docparse

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// Parser extracts structure from a document. Returning a bundle without text
// or tables is not an error.
type Parser interface {
	Parse(ctx context.Context, name string, data []byte) (*model.ExtractionBundle, error)
}

// Format is a detected document format.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatXLSX    Format = "xlsx"
	FormatText    Format = "text"
	FormatUnknown Format = ""
)

// Config tunes the Layout parser.
type Config struct {
	MaxPages int
	Timeout  time.Duration
}

// Layout parses PDF, XLSX and plain text or markdown documents.
type Layout struct {
	pdf TextExtractor
	cfg Config
}

// NewLayout creates a Layout parser. pdf extracts text from PDF files.
func NewLayout(pdf TextExtractor, cfg Config) *Layout {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Layout{pdf: pdf, cfg: cfg}
}

// Detect sniffs the format from magic bytes, falling back to the extension.
func Detect(name string, data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return FormatPDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		if ext := strings.ToLower(filepath.Ext(name)); ext == ".xlsx" || ext == ".xlsm" || ext == "" {
			return FormatXLSX
		}
		return FormatUnknown
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".xlsx", ".xlsm":
		return FormatXLSX
	}
	if utf8.Valid(data) {
		return FormatText
	}
	return FormatUnknown
}

// Parse implements Parser. Input that is not a readable document is
// reported as model.ErrSourceUnreadable.
func (l *Layout) Parse(ctx context.Context, name string, data []byte) (*model.ExtractionBundle, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	format := Detect(name, data)
	var (
		bundle *model.ExtractionBundle
		err    error
	)
	switch format {
	case FormatPDF:
		bundle, err = l.parsePDF(ctx, data)
	case FormatXLSX:
		bundle, err = parseXLSX(data)
	case FormatText:
		text := string(data)
		bundle = &model.ExtractionBundle{Text: text, Tables: DetectTables(text)}
	default:
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "docparse: unsupported format for %s", name)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Debug("docparse: parsed",
		zap.String("name", name),
		zap.String("format", string(format)),
		zap.Int("text_len", len(bundle.Text)),
		zap.Int("tables", len(bundle.Tables)),
		zap.Int("pages", bundle.Pages),
	)
	return bundle, nil
}
