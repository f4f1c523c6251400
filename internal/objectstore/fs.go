package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-ingest/internal/model"
)

// FS serves documents from a local directory. References are paths relative
// to the root, optionally prefixed with file://. Paths escaping the root are
// rejected.
type FS struct {
	root    string
	timeout time.Duration
}

// NewFS creates a filesystem store rooted at root.
func NewFS(root string, timeout time.Duration) (*FS, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, eris.Wrapf(err, "objectstore: stat root %s", root)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("objectstore: root %s is not a directory", root)
	}
	return &FS{root: root, timeout: timeout}, nil
}

// Fetch implements Store.
func (f *FS) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return f.read(ctx, ref, -1)
}

// FetchPrefix implements Store.
func (f *FS) FetchPrefix(ctx context.Context, ref string, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	return f.read(ctx, ref, n)
}

func (f *FS) read(ctx context.Context, ref string, n int) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, f.timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "objectstore: %s: %v", ref, err)
	}

	name := strings.TrimPrefix(strings.TrimPrefix(ref, "file://"), "/")
	file, err := os.OpenInRoot(f.root, name)
	if err != nil {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "objectstore: open %s: %v", ref, err)
	}
	defer file.Close() //nolint:errcheck

	if n < 0 {
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, eris.Wrapf(model.ErrSourceUnreadable, "objectstore: read %s: %v", ref, err)
		}
		return data, nil
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, eris.Wrapf(model.ErrSourceUnreadable, "objectstore: read %s: %v", ref, err)
	}
	return buf[:read], nil
}
