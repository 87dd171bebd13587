// Package blob stores attachment content. Records in the attachment store
// refer to content by the key returned from Put.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no content exists under a key.
var ErrNotFound = errors.New("blob: not found")

// Store holds attachment content.
type Store interface {
	// Put stores content and returns the key to load it with.
	Put(ctx context.Context, filename, contentType string, content io.Reader) (string, error)
	// Open returns a reader for the content under key. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// newKey builds a date-partitioned, collision-free key for filename.
func newKey(prefix, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		name = "file"
	}
	now := time.Now().UTC()
	return path.Join(prefix, now.Format("2006/01/02"), uuid.New().String(), name)
}

// ReadAll loads the whole content under key.
func ReadAll(ctx context.Context, s Store, key string) ([]byte, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
