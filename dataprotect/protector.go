// Package dataprotect encrypts sensitive profile fields at rest with
// AES-256-GCM. The key is derived per purpose from a master secret, so a
// ciphertext produced for one purpose does not open under another.
//
// Output format: base64url( version(1) || nonce(12) || GCM ciphertext ).
package dataprotect

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// PurposeNRIC is the derivation label for national id numbers.
const PurposeNRIC = "agencyauth.nric"

// Marker is shown in place of a value that could not be decrypted.
const Marker = "[unavailable]"

const (
	formatVersion  byte = 1
	nonceSize           = 12
	keySize             = 32
	minSecretBytes      = 32
)

var (
	// ErrShortSecret is returned when the master secret is under 32 bytes.
	ErrShortSecret = errors.New("dataprotect: master secret must be at least 32 bytes")
	// ErrMalformed is returned for input that is not a ciphertext of this format.
	ErrMalformed = errors.New("dataprotect: malformed ciphertext")
	// ErrDecrypt is returned when authentication fails, usually a wrong key or purpose.
	ErrDecrypt = errors.New("dataprotect: decrypt failed")
)

// Protector seals strings under one purpose.
type Protector struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives the purpose key from secret with HKDF-SHA256.
func New(secret []byte, purpose string) (*Protector, error) {
	if len(secret) < minSecretBytes {
		return nil, ErrShortSecret
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Protector{aead: gcm, rand: rand.Reader}, nil
}

// Protect encrypts plaintext with a fresh random nonce.
func (p *Protector) Protect(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(p.rand, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+nonceSize+len(plaintext)+p.aead.Overhead())
	out = append(out, formatVersion)
	out = append(out, nonce...)
	out = p.aead.Seal(out, nonce, []byte(plaintext), []byte{formatVersion})
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Unprotect reverses Protect.
func (p *Protector) Unprotect(ciphertext string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < 1+nonceSize+p.aead.Overhead() || raw[0] != formatVersion {
		return "", ErrMalformed
	}
	nonce := raw[1 : 1+nonceSize]
	plain, err := p.aead.Open(nil, nonce, raw[1+nonceSize:], raw[:1])
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Unprotector is the read half of a protector.
type Unprotector interface {
	Unprotect(ciphertext string) (string, error)
}

// UnprotectOrMarker decrypts ciphertext, or returns Marker together with the
// cause so the caller can log it. An empty ciphertext yields Marker and no error.
func UnprotectOrMarker(u Unprotector, ciphertext string) (string, error) {
	if ciphertext == "" {
		return Marker, nil
	}
	plain, err := u.Unprotect(ciphertext)
	if err != nil {
		return Marker, err
	}
	return plain, nil
}
