package inmemory

import (
	"context"
	"sync"

	"statement-import-service/internal/models"
	"statement-import-service/internal/store"
	"statement-import-service/pkg/errors"
)

// Store is an in-memory implementation of ImportStore.
// It is safe for concurrent use; data is lost on restart.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.ImportRecord
}

// NewStore creates a new in-memory import store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*models.ImportRecord),
	}
}

func key(accountID, uploadID string) string {
	return accountID + "/" + uploadID
}

// Create implements the ImportStore interface.
func (s *Store) Create(ctx context.Context, record *models.ImportRecord) error {
	if err := store.ValidateNew(record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(record.AccountID, record.UploadID)
	if _, exists := s.records[k]; exists {
		return store.AlreadyExists(record.UploadID)
	}

	// Copy to avoid external modifications
	s.records[k] = record.Clone()
	return nil
}

// Get implements the ImportStore interface.
func (s *Store) Get(ctx context.Context, accountID, uploadID string) (*models.ImportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[key(accountID, uploadID)]
	if !exists {
		return nil, errors.NotFoundError(accountID, uploadID)
	}

	return record.Clone(), nil
}

// Update implements the ImportStore interface. The guard check and the
// write happen under one lock.
func (s *Store) Update(ctx context.Context, accountID, uploadID string, update store.RecordUpdate) (*models.ImportRecord, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, exists := s.records[key(accountID, uploadID)]
	if !exists {
		return nil, errors.NotFoundError(accountID, uploadID)
	}
	if !update.Allows(record.Status) {
		return nil, store.StatusConflict(uploadID, record.Status, update.Status)
	}

	update.Apply(record)
	return record.Clone(), nil
}

// Len returns the number of stored records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ensure Store implements ImportStore interface.
var _ store.ImportStore = (*Store)(nil)
