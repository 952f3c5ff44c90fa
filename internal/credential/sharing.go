package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const (
	bundleApp     = "espal"
	bundleVersion = 1
)

// ShareBundle is the envelope for exported connection profiles.
type ShareBundle struct {
	Version int    `json:"v"`
	App     string `json:"app"`
	Time    string `json:"ts"`
	Nonce   string `json:"nonce"`
	Data    string `json:"data"`
}

// SealBundle encrypts data under a fresh random AES-256 key.
// Returns the bundle JSON and the base64url-encoded key.
func SealBundle(data []byte) (bundleJSON, key string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}

	gcm, err := bundleGCM(raw)
	if err != nil {
		return "", "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out, err := json.Marshal(ShareBundle{
		Version: bundleVersion,
		App:     bundleApp,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Nonce:   base64.RawURLEncoding.EncodeToString(nonce),
		Data:    base64.RawURLEncoding.EncodeToString(gcm.Seal(nil, nonce, data, nil)),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal bundle: %w", err)
	}
	return string(out), base64.RawURLEncoding.EncodeToString(raw), nil
}

// OpenBundle decrypts a bundle produced by SealBundle.
func OpenBundle(bundleJSON, key string) ([]byte, error) {
	var bundle ShareBundle
	if err := json.Unmarshal([]byte(bundleJSON), &bundle); err != nil {
		return nil, fmt.Errorf("invalid bundle format: %w", err)
	}
	if bundle.App != bundleApp {
		return nil, fmt.Errorf("not an espal export bundle")
	}
	if bundle.Version != bundleVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", bundle.Version)
	}

	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("invalid decryption key")
	}
	nonce, err := base64.RawURLEncoding.DecodeString(bundle.Nonce)
	if err != nil {
		return nil, fmt.Errorf("corrupted bundle: invalid nonce")
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(bundle.Data)
	if err != nil {
		return nil, fmt.Errorf("corrupted bundle: invalid data")
	}

	gcm, err := bundleGCM(raw)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("corrupted bundle: invalid nonce")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed, check that the key and bundle match")
	}
	return plaintext, nil
}

func bundleGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
