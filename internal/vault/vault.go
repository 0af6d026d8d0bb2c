package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Vault performs symmetric encryption of provider secrets and webhook
// signing keys. Ciphertexts are NaCl SecretBox with the random nonce
// prepended, base64url-encoded.
type Vault struct {
	key [32]byte
}

// New creates a Vault whose key is derived from the master key using SHA256.
func New(masterKey string) *Vault {
	return &Vault{key: sha256.Sum256([]byte(masterKey))}
}

// Encrypt encrypts plaintext and returns the ciphertext together with the
// last four characters of the plaintext, which are stored alongside the
// ciphertext for display purposes.
func (v *Vault) Encrypt(plaintext string) (ciphertext, last4 string, err error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", "", err
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &v.key)

	last4 = plaintext
	if len(plaintext) > 4 {
		last4 = plaintext[len(plaintext)-4:]
	}
	return base64.URLEncoding.EncodeToString(sealed), last4, nil
}

// Decrypt decrypts a base64url-encoded SecretBox ciphertext.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	if len(decoded) < 24 {
		return "", errors.New("ciphertext too short")
	}

	var nonce [24]byte
	copy(nonce[:], decoded[:24])

	plaintext, ok := secretbox.Open(nil, decoded[24:], &nonce, &v.key)
	if !ok {
		return "", errors.New("decryption failed")
	}

	return string(plaintext), nil
}
