// Package crypto seals small secrets (persisted credentials) under a passphrase.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Params
const (
	KeyLen  = 32
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// magic prefixes a sealed blob so plain files are told apart from sealed ones.
var magic = []byte("SFS1")

// ErrOpen is returned for a wrong passphrase or a corrupted blob.
var ErrOpen = errors.New("crypto: cannot open sealed data")

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKey derives a key from passphrase and salt using Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// Equal compares two secrets in constant time.
func Equal(a, b []byte) bool { return subtle.ConstantTimeCompare(a, b) == 1 }

// IsSealed reports whether b carries the sealed-blob prefix.
func IsSealed(b []byte) bool {
	return len(b) >= len(magic) && subtle.ConstantTimeCompare(b[:len(magic)], magic) == 1
}

// Seal encrypts plaintext with XChaCha20-Poly1305 under a key derived from passphrase.
// Layout: magic || salt || nonce || ciphertext.
func Seal(passphrase, plaintext []byte) ([]byte, error) {
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, magic), nil
}

// Open decrypts a blob produced by Seal.
func Open(passphrase, blob []byte) ([]byte, error) {
	head := len(magic) + SaltLen + chacha20poly1305.NonceSizeX
	if len(blob) < head || !IsSealed(blob) {
		return nil, ErrOpen
	}
	salt := blob[len(magic) : len(magic)+SaltLen]
	nonce := blob[len(magic)+SaltLen : head]
	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, blob[head:], magic)
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}
