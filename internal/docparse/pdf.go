package docparse

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// TextExtractor extracts layout-preserving text from a PDF file.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdfPath string, maxPages int) (string, error)
}

// PdfToText extracts text using the poppler pdftotext CLI.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. An empty binPath means "pdftotext".
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string, maxPages int) (string, error) {
	args := []string{"-layout", "-enc", "UTF-8"}
	if maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(maxPages))
	}
	args = append(args, pdfPath, "-")
	cmd := exec.CommandContext(ctx, p.binPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "docparse: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}
	return stdout.String(), nil
}

// PageCount validates a PDF and returns its page count.
func PageCount(data []byte) (int, error) {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, eris.Wrap(err, "docparse: read pdf")
	}
	return n, nil
}

// parsePDF rejects files pdfcpu cannot read. Text extraction failures on a
// valid file, timeouts included, yield a bundle with only the page count.
func (l *Layout) parsePDF(ctx context.Context, data []byte) (*model.ExtractionBundle, error) {
	pages, err := PageCount(data)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "docparse: invalid pdf: %v", err)
	}
	if pages > l.cfg.MaxPages {
		zap.L().Warn("docparse: pdf truncated",
			zap.Int("pages", pages),
			zap.Int("max_pages", l.cfg.MaxPages),
		)
	}

	tmp, err := os.CreateTemp("", "catalog-ingest-*.pdf")
	if err != nil {
		return nil, eris.Wrap(err, "docparse: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "docparse: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return nil, eris.Wrap(err, "docparse: close temp file")
	}

	if l.pdf == nil {
		zap.L().Warn("docparse: no pdf text extractor configured", zap.Int("pages", pages))
		return &model.ExtractionBundle{Pages: pages}, nil
	}
	text, err := l.pdf.ExtractText(ctx, tmp.Name(), l.cfg.MaxPages)
	if err != nil {
		zap.L().Warn("docparse: pdf text extraction unavailable",
			zap.Int("pages", pages),
			zap.Error(err),
		)
		return &model.ExtractionBundle{Pages: pages}, nil
	}
	return &model.ExtractionBundle{Text: text, Tables: DetectTables(text), Pages: pages}, nil
}
