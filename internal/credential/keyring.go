package credential

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "espal"
	keyringAccount = "encryption-key"

	// DefaultSecret is used when neither configuration nor the OS keyring
	// supplies one. It keeps existing installs readable but offers no secrecy.
	DefaultSecret = "espal-default-encryption-key-change-me"
)

// SecretSource reports where the cipher secret came from.
type SecretSource string

const (
	SourceConfig  SecretSource = "config"
	SourceKeyring SecretSource = "keyring"
	SourceDefault SecretSource = "default"
)

// ResolveSecret picks the cipher secret: the configured value if any, else a
// random secret kept in the OS keyring (created on first use), else
// DefaultSecret. The returned error, if any, explains a keyring fallback and
// is informational.
func ResolveSecret(configured string, useKeyring bool) (string, SecretSource, error) {
	if configured != "" {
		return configured, SourceConfig, nil
	}
	if !useKeyring {
		return DefaultSecret, SourceDefault, nil
	}

	secret, err := keyring.Get(keyringService, keyringAccount)
	if err == nil && secret != "" {
		return secret, SourceKeyring, nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return DefaultSecret, SourceDefault, fmt.Errorf("keyring unavailable: %w", err)
	}

	secret, err = newKeyringSecret()
	if err != nil {
		return DefaultSecret, SourceDefault, err
	}
	return secret, SourceKeyring, nil
}

// newKeyringSecret generates a random secret and stores it in the keyring.
func newKeyringSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	secret := hex.EncodeToString(buf)
	if err := keyring.Set(keyringService, keyringAccount, secret); err != nil {
		return "", fmt.Errorf("keyring unavailable (encryption key not persistent): %w", err)
	}
	return secret, nil
}

// ForgetSecret removes the keyring-held secret. Stored passwords encrypted
// with it become unreadable and will be returned in their stored form.
func ForgetSecret() error {
	err := keyring.Delete(keyringService, keyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
