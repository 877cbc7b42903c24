package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore is the durable certificate store backed by a local SQLite
// database. Uniqueness of username and identity key is enforced by the
// schema, so a single INSERT is atomic across both indices.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if necessary initializes) the certificate database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	var tableExists bool
	err := s.db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		return s.initializeSchema()
	}

	var currentVersion int
	err = s.db.QueryRow(`
		SELECT version FROM schema_version
		ORDER BY applied_at DESC LIMIT 1
	`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion < 1 {
		return fmt.Errorf("invalid schema version: %d", currentVersion)
	}

	return nil
}

func (s *SQLiteStore) initializeSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{schemaVersionTable, recordsTable, recordsIndexes} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
		return err
	}

	return tx.Commit()
}

const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	recordsTable = `
CREATE TABLE records (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    identity_key  TEXT NOT NULL UNIQUE,
    public_key    TEXT NOT NULL,
    certificate   TEXT NOT NULL,
    serial_number INTEGER NOT NULL,
    issued_at     DATETIME NOT NULL
)`

	recordsIndexes = `
CREATE INDEX idx_records_issued_at ON records(issued_at)`
)

const recordColumns = `username, identity_key, public_key, certificate, serial_number, issued_at`

// LookupByUsername retrieves the record for a username, if any.
func (s *SQLiteStore) LookupByUsername(ctx context.Context, username string) (*Record, error) {
	return s.lookup(ctx, `SELECT `+recordColumns+` FROM records WHERE username = ?`, username)
}

// LookupByIdentityKey retrieves the record for an identity key, if any.
func (s *SQLiteStore) LookupByIdentityKey(ctx context.Context, identityKey string) (*Record, error) {
	return s.lookup(ctx, `SELECT `+recordColumns+` FROM records WHERE identity_key = ?`, identityKey)
}

func (s *SQLiteStore) lookup(ctx context.Context, query string, arg string) (*Record, error) {
	record := &Record{}

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&record.Username,
		&record.IdentityKey,
		&record.PublicKey,
		&record.Certificate,
		&record.Serial,
		&record.IssuedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up record: %w", err)
	}

	return record, nil
}

// Insert stores a new issuance record. ErrConflict is returned when either
// unique index is violated.
func (s *SQLiteStore) Insert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.Username,
		record.IdentityKey,
		record.PublicKey,
		record.Certificate,
		record.Serial,
		record.IssuedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return nil
}

// NextSerial returns the next certificate serial number.
func (s *SQLiteStore) NextSerial(ctx context.Context) (uint64, error) {
	var serial uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(serial_number), 0) + 1 FROM records
	`).Scan(&serial)
	if err != nil {
		return 0, fmt.Errorf("failed to get next serial number: %w", err)
	}

	return serial, nil
}

// List returns all issuance records, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM records ORDER BY issued_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record := &Record{}
		err := rows.Scan(
			&record.Username,
			&record.IdentityKey,
			&record.PublicKey,
			&record.Certificate,
			&record.Serial,
			&record.IssuedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}
