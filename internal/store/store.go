// Package store persists issued membership certificates. The store is the
// single source of truth for username uniqueness and request idempotency.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups when no record exists.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by Insert when a record for the same username
	// or identity key already exists. At most one of two racing writers ever
	// succeeds; the loser receives ErrConflict.
	ErrConflict = errors.New("record conflicts with an existing username or identity key")
)

// Record is a single certificate issuance. Created exactly once per identity
// key and never mutated or deleted by the registrar.
type Record struct {
	Username    string
	IdentityKey string
	PublicKey   string
	Certificate string
	Serial      uint64
	IssuedAt    time.Time
}

// Store is the certificate store contract. Insert must be atomic with
// respect to both unique indices: there is no window where a username check
// passes but a concurrent insert for the same username also passes.
type Store interface {
	LookupByUsername(ctx context.Context, username string) (*Record, error)
	LookupByIdentityKey(ctx context.Context, identityKey string) (*Record, error)
	Insert(ctx context.Context, record *Record) error
	NextSerial(ctx context.Context) (uint64, error)
	List(ctx context.Context) ([]*Record, error)
}
