package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/pwalczak/memberca/internal/ca"
	"github.com/pwalczak/memberca/internal/csr"
	"github.com/pwalczak/memberca/internal/register"
	"github.com/pwalczak/memberca/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "memberca",
	Short: "Community membership registration client",
	Long:  "Client tool for joining a community: generates keys, submits registration requests and verifies issued certificates",
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a member key pair",
	RunE:  runKeygen,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a username with the community registrar",
	Long:  "Submits a signing request and keeps retrying until the registrar answers, the request is rejected, or the command is interrupted",
	RunE:  runRegister,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a membership certificate against the authority public key",
	RunE:  runVerify,
}

var (
	keyPath        string
	username       string
	registrarURL   string
	socksProxy     string
	attemptTimeout time.Duration
	maxInterval    time.Duration
	certPath       string
	authorityPath  string
)

func init() {
	keygenCmd.Flags().StringVarP(&keyPath, "key", "k", "member_key", "Private key output path")

	registerCmd.Flags().StringVarP(&keyPath, "key", "k", "member_key", "Private key path")
	registerCmd.Flags().StringVarP(&username, "username", "u", "", "Username to register (required)")
	registerCmd.Flags().StringVarP(&registrarURL, "registrar", "r", "", "Registrar base URL (required)")
	registerCmd.Flags().StringVar(&socksProxy, "socks5", "", "SOCKS5 proxy address for reaching the registrar (e.g. 127.0.0.1:9050)")
	registerCmd.Flags().DurationVar(&attemptTimeout, "attempt-timeout", 30*time.Second, "Per-attempt transport timeout")
	registerCmd.Flags().DurationVar(&maxInterval, "max-interval", 30*time.Second, "Retry backoff cap")
	registerCmd.Flags().StringVarP(&certPath, "out", "o", "member_cert.pub", "Issued certificate output path")
	registerCmd.MarkFlagRequired("username")
	registerCmd.MarkFlagRequired("registrar")

	verifyCmd.Flags().StringVarP(&certPath, "cert", "c", "member_cert.pub", "Certificate path")
	verifyCmd.Flags().StringVarP(&authorityPath, "authority", "a", "", "Authority public key path (required)")
	verifyCmd.Flags().StringVarP(&username, "username", "u", "", "Expected username (required)")
	verifyCmd.MarkFlagRequired("authority")
	verifyCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(verifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keyPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing key at %s", keyPath)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return fmt.Errorf("failed to derive public key: %w", err)
	}
	pubPath := keyPath + ".pub"
	if err := os.WriteFile(pubPath, ssh.MarshalAuthorizedKey(signer.PublicKey()), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	fmt.Printf("Wrote %s and %s\n", keyPath, pubPath)
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	signer, err := loadSigner(keyPath)
	if err != nil {
		return err
	}

	request, err := csr.New(username, signer)
	if err != nil {
		return fmt.Errorf("failed to build signing request: %w", err)
	}
	csrBytes, err := request.Encode()
	if err != nil {
		return err
	}

	transportOpts := []transport.HTTPOption{transport.WithTimeout(attemptTimeout)}
	if socksProxy != "" {
		transportOpts = append(transportOpts, transport.WithSOCKS5(socksProxy))
	}
	tr, err := transport.NewHTTP(registrarURL, transportOpts...)
	if err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	session, err := register.Begin(request.Username, csrBytes, tr, register.Options{
		MaxInterval:    maxInterval,
		AttemptTimeout: attemptTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-session.Done():
	case <-interrupt:
		session.Cancel()
		<-session.Done()
	}

	result := session.Result()
	switch result.State {
	case register.StateRegistered:
		if err := os.WriteFile(certPath, append(result.Certificate, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write certificate: %w", err)
		}
		fmt.Printf("Registered as %s after %d attempt(s); certificate written to %s\n",
			result.Username, session.Attempts(), certPath)
		return nil

	case register.StateRejected:
		return fmt.Errorf("registration rejected (%s): %s", result.Code, result.Message)

	default:
		return fmt.Errorf("registration cancelled")
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}

	authorityData, err := os.ReadFile(authorityPath)
	if err != nil {
		return fmt.Errorf("failed to read authority public key: %w", err)
	}
	authorityPub, _, _, _, err := ssh.ParseAuthorizedKey(authorityData)
	if err != nil {
		return fmt.Errorf("failed to parse authority public key: %w", err)
	}

	cert, err := ca.ParseCertificate(string(certData))
	if err != nil {
		return err
	}

	canonical, err := csr.NormalizeUsername(username)
	if err != nil {
		return err
	}

	if err := ca.ValidateCertificate(cert, authorityPub, canonical); err != nil {
		return err
	}

	fmt.Printf("Certificate is valid: %s is bound to key %s (serial %d)\n",
		canonical, cert.KeyId, cert.Serial)
	return nil
}

func loadSigner(path string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key (run 'memberca keygen' first): %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}
