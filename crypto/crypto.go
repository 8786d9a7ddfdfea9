// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package crypto provides the authenticated symmetric cipher used to
// encrypt every blob, pack header, and JSON file vaultpack writes to a
// backend. It implements the encrypt/decrypt contract of spec §4.1: a
// 16-byte random nonce prefix, AEAD ciphertext, and a 16-byte
// authentication tag, with inputs shorter than 32 bytes failing
// decryption outright.
//
// The construction is AES-256 in CTR mode (keyed by Key.Encrypt) with a
// Poly1305-AES one-time authenticator: the nonce is encrypted under
// Key.Encrypt at two successive counter blocks to derive the 32-byte
// one-time Poly1305 key, then Poly1305 authenticates the ciphertext.
// This mirrors the on-disk-compatible format's aes256ctr_poly1305aes
// cipher suite (16-byte nonce, 16-byte tag, 32 bytes total overhead)
// without requiring a non-standard AEAD package: AES-CTR and Poly1305
// are both available from the standard library and golang.org/x/crypto.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/poly1305"
)

// NonceSize is the length in bytes of the random nonce prefixed to
// every ciphertext.
const NonceSize = 16

// TagSize is the length in bytes of the Poly1305 authentication tag
// appended to every ciphertext.
const TagSize = poly1305.TagSize // 16

// Extension is the total overhead Encrypt adds to a plaintext: the
// nonce prefix plus the authentication tag.
const Extension = NonceSize + TagSize // 32

// ErrInvalidCiphertext is returned by Decrypt when the input is too
// short to contain a nonce and tag, or when authentication fails.
var ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext or failed authentication")

// Key holds the symmetric key material for one repository: a 32-byte
// AES-256 key plus two 16-byte subkeys carried for compatibility with
// the on-disk key-file layout (encrypt(32) || mac1(16) || mac2(16))
// that this engine's Key files use; only Encrypt drives the cipher
// above, Mac1/Mac2 are opaque passthrough material.
type Key struct {
	Encrypt [32]byte
	Mac1    [16]byte
	Mac2    [16]byte
}

// NewKey generates a new Key from a cryptographically secure random
// source.
func NewKey() (Key, error) {
	var k Key
	for _, b := range [][]byte{k.Encrypt[:], k.Mac1[:], k.Mac2[:]} {
		if _, err := io.ReadFull(rand.Reader, b); err != nil {
			return Key{}, err
		}
	}
	return k, nil
}

// KeyFromBytes reconstructs a Key from a 64-byte bundle laid out as
// encrypt(32) || mac1(16) || mac2(16).
func KeyFromBytes(b []byte) (Key, error) {
	if len(b) != 64 {
		return Key{}, errors.New("crypto: key material must be 64 bytes")
	}
	var k Key
	copy(k.Encrypt[:], b[0:32])
	copy(k.Mac1[:], b[32:48])
	copy(k.Mac2[:], b[48:64])
	return k, nil
}

// Bytes returns the 64-byte bundle form of k.
func (k Key) Bytes() []byte {
	out := make([]byte, 0, 64)
	out = append(out, k.Encrypt[:]...)
	out = append(out, k.Mac1[:]...)
	out = append(out, k.Mac2[:]...)
	return out
}

// oneTimeMACKey derives the 32-byte one-time Poly1305 key for a given
// nonce: AES_encrypt(nonce) || AES_encrypt(nonce+1), keyed by
// k.Encrypt. This is the standard Poly1305-AES key schedule.
func oneTimeMACKey(block cipher.Block, nonce []byte) ([32]byte, error) {
	var macKey [32]byte

	var ctr [aes.BlockSize]byte
	copy(ctr[:], nonce)
	block.Encrypt(macKey[0:16], ctr[:])

	incrementCounter(&ctr)
	block.Encrypt(macKey[16:32], ctr[:])

	return macKey, nil
}

func incrementCounter(ctr *[aes.BlockSize]byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}

// Encrypt returns nonce || ciphertext || tag for plaintext, using a
// fresh random nonce on every call.
func Encrypt(k Key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.Encrypt[:])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	macKey, err := oneTimeMACKey(block, nonce)
	if err != nil {
		return nil, err
	}

	// CTR keystream is seeded from the same nonce used for the MAC key
	// derivation, but starting at counter 2 so the keystream never
	// overlaps the two MAC-key blocks above.
	var streamIV [aes.BlockSize]byte
	copy(streamIV[:], nonce)
	incrementCounter(&streamIV)
	incrementCounter(&streamIV)
	stream := cipher.NewCTR(block, streamIV[:])

	ciphertext := make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, plaintext)

	var tag [TagSize]byte
	poly1305.Sum(&tag, ciphertext, &macKey)

	out := make([]byte, 0, NonceSize+len(ciphertext)+TagSize)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, tag[:]...)
	return out, nil
}

// Decrypt reverses Encrypt. It fails with ErrInvalidCiphertext if data
// is shorter than the nonce+tag overhead, or if authentication fails.
func Decrypt(k Key, data []byte) ([]byte, error) {
	if len(data) < Extension {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(k.Encrypt[:])
	if err != nil {
		return nil, err
	}

	nonce := data[:NonceSize]
	ciphertext := data[NonceSize : len(data)-TagSize]
	wantTag := data[len(data)-TagSize:]

	macKey, err := oneTimeMACKey(block, nonce)
	if err != nil {
		return nil, err
	}

	var gotTag [TagSize]byte
	poly1305.Sum(&gotTag, ciphertext, &macKey)
	if subtle.ConstantTimeCompare(gotTag[:], wantTag) != 1 {
		return nil, ErrInvalidCiphertext
	}

	var streamIV [aes.BlockSize]byte
	copy(streamIV[:], nonce)
	incrementCounter(&streamIV)
	incrementCounter(&streamIV)
	stream := cipher.NewCTR(block, streamIV[:])

	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// PlaintextLength returns the plaintext length implied by a ciphertext
// of the given length (i.e. ciphertextLength - Extension). It does not
// validate the ciphertext.
func PlaintextLength(ciphertextLength int) int {
	n := ciphertextLength - Extension
	if n < 0 {
		return 0
	}
	return n
}

// CiphertextLength returns the ciphertext length that Encrypt produces
// for a plaintext of the given length.
func CiphertextLength(plaintextLength int) int {
	return plaintextLength + Extension
}
