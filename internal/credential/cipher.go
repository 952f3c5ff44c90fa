// Package credential protects stored connection passwords and handles
// credential-bearing URLs and share bundles.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const (
	ivSize  = 16
	tagSize = 16
)

// Cipher encrypts passwords with AES-256-GCM under a key derived from a
// configured secret. The secret may be weak; SHA-256 normalizes it to 32 bytes.
type Cipher struct {
	key []byte
}

// NewCipher derives the process key from secret.
func NewCipher(secret string) *Cipher {
	sum := sha256.Sum256([]byte(secret))
	return &Cipher{key: sum[:]}
}

// Encrypt seals plaintext with a fresh random IV and returns
// hex(iv):hex(authTag):hex(ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	gcm, err := c.gcm(ivSize)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	// Seal appends the tag to the ciphertext; the token stores it separately.
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt resolves a stored token to plaintext. Tokens that are not a valid
// encrypted triple, or that fail authentication, come back unchanged.
func (c *Cipher) Decrypt(token string) string {
	return c.Reveal(ParseSecret(token))
}

// Reveal resolves a parsed secret to plaintext. It never fails: an encrypted
// secret that cannot be opened is returned as its raw stored form.
func (c *Cipher) Reveal(s StoredSecret) string {
	if !s.encrypted {
		return s.raw
	}
	gcm, err := c.gcm(len(s.iv))
	if err != nil {
		return s.raw
	}
	sealed := make([]byte, 0, len(s.ciphertext)+len(s.tag))
	sealed = append(sealed, s.ciphertext...)
	sealed = append(sealed, s.tag...)
	plaintext, err := gcm.Open(nil, s.iv, sealed, nil)
	if err != nil {
		return s.raw
	}
	return string(plaintext)
}

func (c *Cipher) gcm(nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// StoredSecret is a password as persisted: either legacy plaintext or an
// encrypted (iv, tag, ciphertext) triple.
type StoredSecret struct {
	raw        string
	encrypted  bool
	iv         []byte
	tag        []byte
	ciphertext []byte
}

// ParseSecret classifies a stored token. Anything that is not three
// colon-separated hex fields with a non-empty IV and a full-length tag is
// plaintext.
func ParseSecret(token string) StoredSecret {
	s := StoredSecret{raw: token}
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return s
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) == 0 {
		return s
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return s
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return s
	}
	s.encrypted = true
	s.iv, s.tag, s.ciphertext = iv, tag, ciphertext
	return s
}

// IsEncrypted reports whether the secret parsed as an encrypted triple.
func (s StoredSecret) IsEncrypted() bool {
	return s.encrypted
}

// String returns the stored form, never plaintext of an encrypted secret.
func (s StoredSecret) String() string {
	return s.raw
}
