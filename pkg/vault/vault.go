// Package vault encrypts account secrets at rest with a key stretched from a single
// master passphrase.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"github.com/maheshrc27/postqueue/internal/errs"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2-SHA256 work factor.
	Iterations = 100_000
	keyLen     = 32
)

var defaultSalt = []byte("postqueue_vault_salt")

// Vault is safe for concurrent use. The key is derived once, on first use.
type Vault struct {
	passphrase []byte
	salt       []byte
	iterations int

	once sync.Once
	aead cipher.AEAD
	err  error
}

func New(passphrase string) *Vault {
	return &Vault{
		passphrase: []byte(passphrase),
		salt:       defaultSalt,
		iterations: Iterations,
	}
}

func (v *Vault) cipher() (cipher.AEAD, error) {
	v.once.Do(func() {
		key := pbkdf2.Key(v.passphrase, v.salt, v.iterations, keyLen, sha256.New)
		v.passphrase = nil

		block, err := aes.NewCipher(key)
		if err != nil {
			v.err = err
			return
		}
		v.aead, v.err = cipher.NewGCM(block)
	})
	return v.aead, v.err
}

// Encrypt seals plaintext with AES-GCM and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aesGCM, err := v.cipher()
	if err != nil {
		return "", &errs.CryptoError{Err: err}
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", &errs.CryptoError{Err: err}
	}

	ciphertext := aesGCM.Seal(nil, nonce, []byte(plaintext), nil)
	finalData := append(nonce, ciphertext...)

	return base64.StdEncoding.EncodeToString(finalData), nil
}

// Decrypt reverses Encrypt. Malformed input or a ciphertext sealed under another
// key yields *errs.CryptoError.
func (v *Vault) Decrypt(encryptedData string) (string, error) {
	aesGCM, err := v.cipher()
	if err != nil {
		return "", &errs.CryptoError{Err: err}
	}

	data, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		return "", &errs.CryptoError{Err: err}
	}

	nonceSize := aesGCM.NonceSize()
	if len(data) < nonceSize+aesGCM.Overhead() {
		return "", &errs.CryptoError{Err: errors.New("ciphertext too short")}
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", &errs.CryptoError{Err: err}
	}

	return string(plaintext), nil
}
