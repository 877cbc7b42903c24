// Package csr implements the certificate-signing request presented by a
// requester: a self-certifying payload binding a username to an SSH public
// key, signed by the matching private key.
package csr

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pwalczak/memberca/pkg/sshutil"
)

// Usernames are matched case-insensitively; the lowercase form is canonical.
var usernameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

var (
	// ErrBadSignature indicates the CSR signature does not verify against the
	// embedded public key.
	ErrBadSignature = errors.New("csr signature verification failed")

	// ErrBadUsername indicates the requested username fails the format rules.
	ErrBadUsername = errors.New("username must be 1-32 chars of a-z, 0-9 or '-', starting with a letter or digit")
)

// SigningRequest is the decoded form of a CSR. Immutable once submitted; the
// requester resends the identical bytes on every retry so the registrar can
// treat duplicates idempotently.
type SigningRequest struct {
	Username  string    `json:"username"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
	Signature []byte    `json:"signature"`
}

// New builds and signs a CSR for the given username using the requester's key.
func New(username string, signer ssh.Signer) (*SigningRequest, error) {
	canonical, err := NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	req := &SigningRequest{
		Username:  canonical,
		PublicKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	sig, err := signer.Sign(rand.Reader, req.signedBytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign csr: %w", err)
	}
	req.Signature = ssh.Marshal(sig)

	return req, nil
}

// Parse decodes a CSR from its wire form. It does not verify the signature;
// callers must invoke Verify before trusting the contents.
func Parse(data []byte) (*SigningRequest, error) {
	var req SigningRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse csr: %w", err)
	}
	if req.Username == "" || req.PublicKey == "" || len(req.Signature) == 0 {
		return nil, fmt.Errorf("csr is missing required fields")
	}
	return &req, nil
}

// Encode marshals the CSR to its wire form.
func (r *SigningRequest) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode csr: %w", err)
	}
	return data, nil
}

// Verify checks the username format and the signature against the embedded
// public key.
func (r *SigningRequest) Verify() error {
	if _, err := NormalizeUsername(r.Username); err != nil {
		return err
	}
	if r.Username != strings.ToLower(r.Username) {
		return ErrBadUsername
	}

	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(r.PublicKey))
	if err != nil {
		return fmt.Errorf("failed to parse csr public key: %w", err)
	}

	var sig ssh.Signature
	if err := ssh.Unmarshal(r.Signature, &sig); err != nil {
		return fmt.Errorf("failed to parse csr signature: %w", err)
	}

	if err := pubkey.Verify(r.signedBytes(), &sig); err != nil {
		return ErrBadSignature
	}

	return nil
}

// IdentityKey derives the requester's stable identifier: the SHA256
// fingerprint of the CSR's public key.
func (r *SigningRequest) IdentityKey() (string, error) {
	return sshutil.Fingerprint(r.PublicKey)
}

// signedBytes is the canonical byte string covered by the CSR signature.
func (r *SigningRequest) signedBytes() []byte {
	payload := fmt.Sprintf("memberca-csr-v1\n%s\n%s\n%s",
		r.Username,
		r.PublicKey,
		r.CreatedAt.UTC().Format(time.RFC3339),
	)
	return []byte(payload)
}

// NormalizeUsername lowercases a username and validates it against the
// registrar's format rules, returning the canonical form.
func NormalizeUsername(username string) (string, error) {
	canonical := strings.ToLower(strings.TrimSpace(username))
	if !usernameRegexp.MatchString(canonical) {
		return "", ErrBadUsername
	}
	return canonical, nil
}
