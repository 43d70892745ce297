package objectstore

import (
	"context"
	"io"
)

// ObjectRef identifies an uploaded object.
type ObjectRef struct {
	Key         string
	ContentType string
	Size        int64
}

// ObjectStore holds uploaded binaries. Put on an existing key overwrites it.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (ObjectRef, error)
	DownloadURL(ctx context.Context, ref ObjectRef) (string, error)
}
