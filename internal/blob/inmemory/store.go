package inmemory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"statement-import-service/internal/blob"
)

// Store keeps objects in memory. Signed URLs point at the service's own
// upload endpoint, so the whole upload flow can run locally.
type Store struct {
	mu      sync.RWMutex
	bucket  string
	baseURL string
	objects map[string][]byte
}

// NewStore creates a store that issues upload URLs under baseURL
func NewStore(bucket, baseURL string) *Store {
	return &Store{
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string][]byte),
	}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Bucket implements blob.Store.
func (s *Store) Bucket() string {
	return s.bucket
}

// PutWithSignedURL implements blob.Store. The URL is not actually signed;
// ttl is ignored.
func (s *Store) PutWithSignedURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	u := &url.URL{Path: "/blobs/" + s.bucket + "/" + key}
	return s.baseURL + u.EscapedPath(), nil
}

// Put stores an object
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
	return nil
}

// GetContent implements blob.Store.
func (s *Store) GetContent(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", blob.ErrNotFound, bucket, key)
	}
	return append([]byte(nil), data...), nil
}

// Delete implements blob.Store.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := objectKey(bucket, key)
	if _, ok := s.objects[k]; !ok {
		return fmt.Errorf("%w: %s/%s", blob.ErrNotFound, bucket, key)
	}
	delete(s.objects, k)
	return nil
}

var _ blob.Store = (*Store)(nil)
