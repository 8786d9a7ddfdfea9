// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/scrypt"

	"github.com/vaultpack/vaultpack/crypto"
)

// keyFileJSON is the on-disk wrapping of a repository's master Key: a
// scrypt-derived wrapping key (spec §4.1 calls KDF details "external
// to the core") encrypts the 64-byte key bundle under the same AEAD
// construction the core uses for everything else.
type keyFileJSON struct {
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       []byte `json:"salt"`
	WrappedKey []byte `json:"wrapped_key"`
}

const scryptSaltSize = 16

// WriteKeyFile derives a wrapping key from passphrase via scrypt and
// writes key, encrypted under it, to path as JSON.
func WriteKeyFile(path string, key crypto.Key, passphrase string, n, r, p int) error {
	salt := make([]byte, scryptSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("config: generate salt: %w", err)
	}

	wrapKey, err := deriveWrapKey(passphrase, salt, n, r, p)
	if err != nil {
		return fmt.Errorf("config: derive wrapping key: %w", err)
	}

	wrapped, err := crypto.Encrypt(wrapKey, key.Bytes())
	if err != nil {
		return fmt.Errorf("config: wrap key: %w", err)
	}

	data, err := json.MarshalIndent(keyFileJSON{N: n, R: r, P: p, Salt: salt, WrappedKey: wrapped}, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode key file: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadKeyFile reverses WriteKeyFile, deriving the same wrapping key
// from passphrase and the file's stored scrypt parameters and salt.
func ReadKeyFile(path string, passphrase string) (crypto.Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("config: read key file: %w", err)
	}
	var kf keyFileJSON
	if err := json.Unmarshal(data, &kf); err != nil {
		return crypto.Key{}, fmt.Errorf("config: decode key file: %w", err)
	}

	wrapKey, err := deriveWrapKey(passphrase, kf.Salt, kf.N, kf.R, kf.P)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("config: derive wrapping key: %w", err)
	}

	plain, err := crypto.Decrypt(wrapKey, kf.WrappedKey)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("config: unwrap key (wrong passphrase?): %w", err)
	}
	return crypto.KeyFromBytes(plain)
}

func deriveWrapKey(passphrase string, salt []byte, n, r, p int) (crypto.Key, error) {
	material, err := scrypt.Key([]byte(passphrase), salt, n, r, p, 64)
	if err != nil {
		return crypto.Key{}, err
	}
	return crypto.KeyFromBytes(material)
}
