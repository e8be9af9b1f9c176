// Package blob defines the raw-file store. Uploads go straight from the
// client to the store through a time-boxed signed URL.
package blob

import (
	"context"
	stderrors "errors"
	"time"
)

// DefaultUploadTTL is the validity of a signed upload URL
const DefaultUploadTTL = 5 * time.Minute

// ErrNotFound is returned when an object does not exist
var ErrNotFound = stderrors.New("blob not found")

// Store is the raw-file store
type Store interface {
	// Bucket is the bucket that signed uploads are written to.
	Bucket() string

	// PutWithSignedURL returns a URL the client can PUT the object to until ttl elapses.
	PutWithSignedURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)

	GetContent(ctx context.Context, bucket, key string) ([]byte, error)

	Delete(ctx context.Context, bucket, key string) error
}
