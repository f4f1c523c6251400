// Package objectstore fetches source documents by reference.
package objectstore

import (
	"context"
	"strings"
	"time"
)

// Store reads immutable source documents.
type Store interface {
	// Fetch returns the full document body.
	Fetch(ctx context.Context, ref string) ([]byte, error)
	// FetchPrefix returns at most n leading bytes, for sniffing.
	FetchPrefix(ctx context.Context, ref string, n int) ([]byte, error)
}

const defaultTimeout = 30 * time.Second

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// Name returns the last path element of ref, used for format detection.
func Name(ref string) string {
	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndexAny(ref, "/\\"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
