package ca

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// IssueParams describes a membership certificate to be issued.
type IssueParams struct {
	// PublicKey is the member's public key in authorized_keys form.
	PublicKey string
	// Username becomes the certificate's single valid principal.
	Username string
	// IdentityKey becomes the certificate's key ID, tying it back to the
	// requester's stable identifier.
	IdentityKey string
	Serial      uint64
	IssuedAt    time.Time
	// Validity of zero issues a certificate with no expiry; membership does
	// not lapse on its own.
	Validity time.Duration
}

// IssueMembershipCertificate signs an SSH certificate binding a username to a
// member public key.
func IssueMembershipCertificate(ak *AuthorityKey, p IssueParams) (string, error) {
	memberKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(p.PublicKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse member public key: %w", err)
	}

	validBefore := uint64(ssh.CertTimeInfinity)
	if p.Validity > 0 {
		validBefore = uint64(p.IssuedAt.Add(p.Validity).Unix())
	}

	cert := &ssh.Certificate{
		Key:             memberKey,
		Serial:          p.Serial,
		CertType:        ssh.UserCert,
		KeyId:           p.IdentityKey,
		ValidPrincipals: []string{p.Username},
		ValidAfter:      uint64(p.IssuedAt.Unix()),
		ValidBefore:     validBefore,
	}

	if err := cert.SignCert(rand.Reader, ak.Signer); err != nil {
		return "", fmt.Errorf("failed to sign certificate: %w", err)
	}

	// Trailing newline stripped so the certificate embeds cleanly in JSON.
	return string(bytes.TrimSpace(ssh.MarshalAuthorizedKey(cert))), nil
}

// ParseCertificate parses a membership certificate from authorized_keys form.
func ParseCertificate(certData string) (*ssh.Certificate, error) {
	pubKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(certData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	cert, ok := pubKey.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("not a certificate")
	}

	return cert, nil
}

// ValidateCertificate verifies that a certificate binds the given username and
// was signed by the authority.
func ValidateCertificate(cert *ssh.Certificate, authorityPub ssh.PublicKey, username string) error {
	checker := &ssh.CertChecker{
		IsUserAuthority: func(auth ssh.PublicKey) bool {
			return bytes.Equal(auth.Marshal(), authorityPub.Marshal())
		},
	}

	if err := checker.CheckCert(username, cert); err != nil {
		return fmt.Errorf("certificate validation failed: %w", err)
	}

	return nil
}
