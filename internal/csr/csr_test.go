package csr

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func TestRoundTrip(t *testing.T) {
	signer := newSigner(t)

	request, err := New("Alice", signer)
	require.NoError(t, err)
	require.Equal(t, "alice", request.Username, "canonical form is lowercase")

	data, err := request.Encode()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.NoError(t, parsed.Verify())
	require.Equal(t, request.Username, parsed.Username)
}

func TestIdentityKeyIsStable(t *testing.T) {
	signer := newSigner(t)

	first, err := New("alice", signer)
	require.NoError(t, err)
	second, err := New("bob", signer)
	require.NoError(t, err)

	key1, err := first.IdentityKey()
	require.NoError(t, err)
	key2, err := second.IdentityKey()
	require.NoError(t, err)

	require.Equal(t, key1, key2, "identity key depends only on the public key")

	other, err := New("alice", newSigner(t))
	require.NoError(t, err)
	key3, err := other.IdentityKey()
	require.NoError(t, err)
	require.NotEqual(t, key1, key3)
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer := newSigner(t)

	request, err := New("alice", signer)
	require.NoError(t, err)

	t.Run("username swap", func(t *testing.T) {
		tampered := *request
		tampered.Username = "mallory"
		require.Error(t, tampered.Verify())
	})

	t.Run("key swap", func(t *testing.T) {
		tampered := *request
		tampered.PublicKey = request.PublicKey[:len(request.PublicKey)-2] + "AA"
		require.Error(t, tampered.Verify())
	})

	t.Run("broken signature", func(t *testing.T) {
		tampered := *request
		tampered.Signature = append([]byte(nil), request.Signature...)
		tampered.Signature[len(tampered.Signature)-1] ^= 0xff
		require.ErrorIs(t, tampered.Verify(), ErrBadSignature)
	})
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not json"))
	require.Error(t, err)

	_, err = Parse([]byte(`{"username":"alice"}`))
	require.Error(t, err, "missing public key and signature")
}

func TestNormalizeUsername(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"simple", "alice", "alice", true},
		{"uppercase folded", "Alice", "alice", true},
		{"digits and hyphens", "bob-42", "bob-42", true},
		{"surrounding space trimmed", "  carol ", "carol", true},
		{"empty", "", "", false},
		{"leading hyphen", "-dave", "", false},
		{"inner space", "eve smith", "", false},
		{"too long", "a-very-long-username-that-keeps-going-on", "", false},
		{"unicode", "żółw", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeUsername(tc.input)
			if !tc.ok {
				require.ErrorIs(t, err, ErrBadUsername)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
