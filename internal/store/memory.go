package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and ephemeral communities. Both
// indices are updated under one lock, so Insert has the same at-most-one-winner
// semantics as the durable store.
type MemoryStore struct {
	mu         sync.RWMutex
	byUsername map[string]*Record
	byIdentity map[string]*Record
	lastSerial uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUsername: make(map[string]*Record),
		byIdentity: make(map[string]*Record),
	}
}

// LookupByUsername retrieves the record for a username, if any.
func (s *MemoryStore) LookupByUsername(_ context.Context, username string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return cloned(record), nil
}

// LookupByIdentityKey retrieves the record for an identity key, if any.
func (s *MemoryStore) LookupByIdentityKey(_ context.Context, identityKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byIdentity[identityKey]
	if !ok {
		return nil, ErrNotFound
	}
	return cloned(record), nil
}

// Insert stores a new issuance record, returning ErrConflict if either index
// already holds an entry.
func (s *MemoryStore) Insert(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[record.Username]; taken {
		return ErrConflict
	}
	if _, taken := s.byIdentity[record.IdentityKey]; taken {
		return ErrConflict
	}

	stored := cloned(record)
	s.byUsername[stored.Username] = stored
	s.byIdentity[stored.IdentityKey] = stored
	return nil
}

// NextSerial returns the next certificate serial number.
func (s *MemoryStore) NextSerial(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSerial++
	return s.lastSerial, nil
}

// List returns all issuance records.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*Record, 0, len(s.byUsername))
	for _, record := range s.byUsername {
		records = append(records, cloned(record))
	}
	return records, nil
}

func cloned(record *Record) *Record {
	c := *record
	return &c
}
