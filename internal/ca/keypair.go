package ca

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// AuthorityKey is the registrar's signing key pair. Every membership
// certificate the community trusts is signed by it.
type AuthorityKey struct {
	Signer    ssh.Signer
	PublicKey ssh.PublicKey
	KeyType   string
}

// LoadOrGenerate loads the authority key pair from disk, generating and
// persisting a fresh one on first start.
func LoadOrGenerate(privatePath, publicPath, keyType string) (*AuthorityKey, error) {
	if _, err := os.Stat(privatePath); err == nil {
		return load(privatePath)
	}

	return generate(privatePath, publicPath, keyType)
}

func load(privatePath string) (*AuthorityKey, error) {
	privateBytes, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read authority private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(privateBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authority private key: %w", err)
	}

	return &AuthorityKey{
		Signer:    signer,
		PublicKey: signer.PublicKey(),
		KeyType:   signer.PublicKey().Type(),
	}, nil
}

func generate(privatePath, publicPath, keyType string) (*AuthorityKey, error) {
	var priv crypto.Signer

	switch keyType {
	case "ed25519":
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		priv = key

	case "rsa":
		key, err := rsa.GenerateKey(rand.Reader, 4096)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		priv = key

	default:
		return nil, fmt.Errorf("unsupported key type: %s", keyType)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH signer: %w", err)
	}

	ak := &AuthorityKey{
		Signer:    signer,
		PublicKey: signer.PublicKey(),
		KeyType:   keyType,
	}

	if err := save(priv, ak, privatePath, publicPath); err != nil {
		return nil, fmt.Errorf("failed to save authority key pair: %w", err)
	}

	return ak, nil
}

func save(priv crypto.Signer, ak *AuthorityKey, privatePath, publicPath string) error {
	for _, path := range []string{privatePath, publicPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create key directory: %w", err)
		}
	}

	privateBlock, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.WriteFile(privatePath, pem.EncodeToMemory(privateBlock), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	if err := os.WriteFile(publicPath, ssh.MarshalAuthorizedKey(ak.PublicKey), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}

// PublicKeyString returns the authority public key in authorized_keys form,
// for distribution to joiners who need to validate issued certificates.
func (ak *AuthorityKey) PublicKeyString() string {
	return string(ssh.MarshalAuthorizedKey(ak.PublicKey))
}
