package aead

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestXChaChaRoundTrip(t *testing.T) {
	var key [KeyLen]byte
	for i := range key {
		key[i] = byte(i)
	}

	a := XChaCha20Poly1305{}
	nonce, ciphertext, err := a.Encrypt([]byte("hello world"), key[:])
	require.NoError(t, err)
	require.Len(t, nonce, NonceLen)

	plaintext, err := a.Decrypt(ciphertext, key[:], nonce)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(plaintext))
}

func TestXChaChaRejectsTamperedCiphertext(t *testing.T) {
	var key [KeyLen]byte
	a := XChaCha20Poly1305{}
	nonce, ciphertext, err := a.Encrypt([]byte("hello world"), key[:])
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF
	_, err = a.Decrypt(ciphertext, key[:], nonce)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestXChaChaRejectsWrongKey(t *testing.T) {
	var key, other [KeyLen]byte
	other[0] = 1

	a := XChaCha20Poly1305{}
	nonce, ciphertext, err := a.Encrypt([]byte("hello world"), key[:])
	require.NoError(t, err)

	_, err = a.Decrypt(ciphertext, other[:], nonce)
	require.ErrorIs(t, err, ErrDecrypt)
}
