package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Both implementations must satisfy the same contract, in particular the
// at-most-one-winner semantics of Insert.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func record(username, identityKey string) *Record {
	return &Record{
		Username:    username,
		IdentityKey: identityKey,
		PublicKey:   "ssh-ed25519 AAAA... " + username,
		Certificate: "cert-for-" + username,
		Serial:      1,
		IssuedAt:    time.Now().UTC().Truncate(time.Second),
	}
}

func TestLookupAbsent(t *testing.T) {
	for name, st := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := st.LookupByUsername(ctx, "alice")
			require.ErrorIs(t, err, ErrNotFound)

			_, err = st.LookupByIdentityKey(ctx, "SHA256:nope")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestInsertAndLookup(t *testing.T) {
	for name, st := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := record("alice", "SHA256:alice")

			require.NoError(t, st.Insert(ctx, rec))

			byName, err := st.LookupByUsername(ctx, "alice")
			require.NoError(t, err)
			require.Equal(t, rec.Certificate, byName.Certificate)
			require.Equal(t, rec.IdentityKey, byName.IdentityKey)

			byKey, err := st.LookupByIdentityKey(ctx, "SHA256:alice")
			require.NoError(t, err)
			require.Equal(t, rec.Username, byKey.Username)
		})
	}
}

func TestInsertConflicts(t *testing.T) {
	for name, st := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.Insert(ctx, record("alice", "SHA256:alice")))

			t.Run("same username", func(t *testing.T) {
				err := st.Insert(ctx, record("alice", "SHA256:other"))
				require.ErrorIs(t, err, ErrConflict)
			})

			t.Run("same identity key", func(t *testing.T) {
				err := st.Insert(ctx, record("bob", "SHA256:alice"))
				require.ErrorIs(t, err, ErrConflict)
			})

			records, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, records, 1, "losing inserts must leave no trace")
		})
	}
}

func TestConcurrentInsertSingleWinner(t *testing.T) {
	for name, st := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const racers = 16

			var wg sync.WaitGroup
			errs := make([]error, racers)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = st.Insert(ctx, record("alice", fmt.Sprintf("SHA256:racer-%d", i)))
				}(i)
			}
			wg.Wait()

			winners := 0
			for _, err := range errs {
				if err == nil {
					winners++
				} else {
					require.ErrorIs(t, err, ErrConflict)
				}
			}
			require.Equal(t, 1, winners)

			records, err := st.List(ctx)
			require.NoError(t, err)
			require.Len(t, records, 1)
		})
	}
}

func TestNextSerialAdvances(t *testing.T) {
	for name, st := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := st.NextSerial(ctx)
			require.NoError(t, err)
			require.Equal(t, uint64(1), first)

			rec := record("alice", "SHA256:alice")
			rec.Serial = first
			require.NoError(t, st.Insert(ctx, rec))

			second, err := st.NextSerial(ctx)
			require.NoError(t, err)
			require.Greater(t, second, first)
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	st, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, st.Insert(ctx, record("alice", "SHA256:alice")))
	require.NoError(t, st.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.LookupByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "SHA256:alice", rec.IdentityKey)
}
