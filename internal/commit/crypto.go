package commit

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the symmetric key length required by Encrypt/Decrypt, matching
// nacl/secretbox's 256-bit key.
const KeySize = 32

// ErrInvalidKeySize is returned when a reveal key of the wrong length is
// supplied.
var ErrInvalidKeySize = errors.New("commit: symmetric key must be 32 bytes")

// Encrypt authenticates and encrypts plaintext under key, returning a
// URL-safe base64 ciphertext (spec section 6, "Decryption contract").
// This is the same primitive miners are expected to use to produce the
// ciphertexts a validator receives over RPC.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", ErrInvalidKeySize
	}
	var keyArr [KeySize]byte
	copy(keyArr[:], key)

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("commit: generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &keyArr)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. On any failure (bad key, corrupted/forged
// ciphertext, malformed base64) it returns an error and never panics;
// callers must treat this as "leave revealed payload unset" per spec
// section 4.A, not propagate the error further.
func Decrypt(ciphertext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", ErrInvalidKeySize
	}
	var keyArr [KeySize]byte
	copy(keyArr[:], key)

	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("commit: decode ciphertext: %w", err)
	}
	if len(raw) < 24 {
		return "", errors.New("commit: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])

	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &keyArr)
	if !ok {
		return "", errors.New("commit: decryption failed (bad key or corrupted ciphertext)")
	}
	return string(plain), nil
}
