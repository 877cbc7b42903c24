package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the registrar daemon.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Authority AuthorityConfig `yaml:"authority"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig contains certificate store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthorityConfig contains authority key and issuance configuration.
type AuthorityConfig struct {
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
	KeyType        string `yaml:"key_type"`
	// CertValidity limits issued certificates' lifetime. Empty or "0" issues
	// certificates without expiry.
	CertValidity string `yaml:"cert_validity"`
}

// AdminConfig contains admin API configuration.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Authority.PrivateKeyPath == "" {
		return fmt.Errorf("authority.private_key_path is required")
	}
	if c.Authority.PublicKeyPath == "" {
		return fmt.Errorf("authority.public_key_path is required")
	}
	if c.Authority.KeyType != "ed25519" && c.Authority.KeyType != "rsa" {
		return fmt.Errorf("authority.key_type must be 'ed25519' or 'rsa'")
	}
	if c.Authority.CertValidity != "" {
		if _, err := time.ParseDuration(c.Authority.CertValidity); err != nil {
			return fmt.Errorf("authority.cert_validity is invalid: %w", err)
		}
	}

	if c.Admin.Token == "" {
		return fmt.Errorf("admin.token is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	return nil
}

// CertValidityDuration returns the issued-certificate lifetime, zero meaning
// no expiry.
func (c *Config) CertValidityDuration() time.Duration {
	if c.Authority.CertValidity == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Authority.CertValidity)
	return d
}
