// Package objectstore holds transformed artifacts referenced by cache
// entries.
package objectstore

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown locator.
var ErrNotFound = errors.New("object not found")

// Store persists opaque blobs. Put returns the locator that Get accepts.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, locator string) (io.ReadCloser, error)
}

func newObjectName() string {
	return uuid.NewString() + ".json"
}
