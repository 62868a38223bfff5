// Copyright 2018 The Gringo Developers. All rights reserved.
// Use of this source code is governed by a GNU GENERAL PUBLIC LICENSE v3
// license that can be found in the LICENSE file.

// Package aead implements the symmetric AEAD contract named in the spec's
// external collaborators (§6: encrypt/decrypt/nonceLength) using
// XChaCha20-Poly1305, plus the EncryptedDbChange plaintext framing (§3)
// that carries a tamper-checked embedded timestamp and PADMÉ padding.
package aead

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyLen is the required symmetric key width for XChaCha20-Poly1305.
const KeyLen = chacha20poly1305.KeySize

// NonceLen is the nonce width this AEAD uses (24 bytes for the X variant,
// large enough for random nonces to never collide in practice).
const NonceLen = chacha20poly1305.NonceSizeX

// ErrDecrypt is returned by Decrypt on any authentication failure.
var ErrDecrypt = fmt.Errorf("aead: decryption failed")

// AEAD is the contract §6 names: encrypt, decrypt, and the nonce width
// they agree on.
type AEAD interface {
	// Encrypt returns a fresh random nonce and the ciphertext (including
	// Poly1305's authentication tag) for plaintext under key.
	Encrypt(plaintext, key []byte) (nonce, ciphertext []byte, err error)
	// Decrypt authenticates and decrypts ciphertext under key and nonce.
	Decrypt(ciphertext, key, nonce []byte) ([]byte, error)
	// NonceLength is the width Encrypt's nonce and Decrypt's expected
	// nonce argument share.
	NonceLength() int
}

// XChaCha20Poly1305 is the reference AEAD (§2: "XChaCha20-Poly1305
// recommended").
type XChaCha20Poly1305 struct{}

func (XChaCha20Poly1305) NonceLength() int { return NonceLen }

func (XChaCha20Poly1305) Encrypt(plaintext, key []byte) ([]byte, []byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aead: new cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("aead: nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

func (XChaCha20Poly1305) Decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
