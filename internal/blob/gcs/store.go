// Package gcs implements the blob store on Google Cloud Storage.
package gcs

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"

	"statement-import-service/internal/blob"
	"statement-import-service/pkg/logger"
)

// Config holds the configuration for the GCS store
type Config struct {
	Bucket string
	// SigningAccount is the service account email used for V4 signing when
	// the ambient credentials cannot sign on their own.
	SigningAccount string
}

// Store is a GCS implementation of blob.Store
type Store struct {
	client *storage.Client
	config Config
	now    func() time.Time
	logger logger.Logger
}

// NewStore opens a storage client
func NewStore(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{
		client: client,
		config: cfg,
		now:    time.Now,
		logger: logger.OrGlobal(log).WithComponent("gcs_blob_store"),
	}, nil
}

// Close releases the client
func (s *Store) Close() error {
	return s.client.Close()
}

// Bucket implements blob.Store.
func (s *Store) Bucket() string {
	return s.config.Bucket
}

// PutWithSignedURL implements blob.Store.
func (s *Store) PutWithSignedURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	opts := s.signedURLOptions(contentType, ttl)

	url, err := s.client.Bucket(s.config.Bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	s.logger.WithFields(logger.Fields{
		"bucket": s.config.Bucket,
		"key":    key,
		"ttl":    ttl.String(),
	}).Debug("Issued signed upload URL")
	return url, nil
}

func (s *Store) signedURLOptions(contentType string, ttl time.Duration) *storage.SignedURLOptions {
	if ttl <= 0 {
		ttl = blob.DefaultUploadTTL
	}
	return &storage.SignedURLOptions{
		GoogleAccessID: s.config.SigningAccount,
		Method:         http.MethodPut,
		Expires:        s.now().Add(ttl),
		ContentType:    contentType,
		Scheme:         storage.SigningSchemeV4,
	}
}

// GetContent implements blob.Store.
func (s *Store) GetContent(ctx context.Context, bucket, key string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", blob.ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("open GCS object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

// Delete implements blob.Store.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if err := s.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		if stderrors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: gs://%s/%s", blob.ErrNotFound, bucket, key)
		}
		return fmt.Errorf("delete GCS object: %w", err)
	}
	return nil
}

var _ blob.Store = (*Store)(nil)
