// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package vaultpack is a deduplicating, encrypted, content-addressed
// backup engine compatible with the on-disk format used by the restic
// family of tools. It owns the storage and consistency core: the data
// model of blobs/packs/index/trees/snapshots, the packer pipeline, the
// indexed content-addressed store, snapshot/tree traversal, the
// forget/retention policy evaluator, and the prune planner.
//
// Concrete backend transports (besides the local reference backend in
// the backend package), the content-defined chunker, CLI parsing, and
// interactive UIs are not part of this package — see backend.Backend
// for the narrow interface the core consumes.
package vaultpack

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// IDSize is the length in bytes of an Id: a SHA-256 digest.
const IDSize = sha256.Size

// ID is a 32-byte content identifier. Its textual form is lowercase
// hex. Equality is byte equality.
type ID [IDSize]byte

// ZeroID is the null Id (all zero bytes).
var ZeroID ID

// Hash returns the Id of data: SHA-256(data).
func Hash(data []byte) ID {
	return sha256.Sum256(data)
}

// IsZero reports whether id is the null Id.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// String returns the lowercase hex encoding of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters of id, for log lines.
func (id ID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// MarshalJSON implements json.Marshaler, encoding the Id as a hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 2*IDSize+2)
	buf = append(buf, '"')
	buf = append(buf, []byte(id.String())...)
	buf = append(buf, '"')
	return buf, nil
}

// UnmarshalJSON implements json.Unmarshaler, decoding a hex string.
func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.New("vaultpack: invalid Id JSON")
	}
	parsed, err := ParseID(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses a lowercase hex string into an Id.
func ParseID(s string) (ID, error) {
	if len(s) != 2*IDSize {
		return ID{}, errors.New("vaultpack: invalid Id length")
	}
	var id ID
	n, err := hex.Decode(id[:], []byte(s))
	if err != nil {
		return ID{}, err
	}
	if n != IDSize {
		return ID{}, errors.New("vaultpack: short Id decode")
	}
	return id, nil
}

// IDSet is an unordered set of Ids.
type IDSet map[ID]struct{}

// NewIDSet returns a new, empty IDSet.
func NewIDSet(ids ...ID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Insert adds id to the set.
func (s IDSet) Insert(id ID) { s[id] = struct{}{} }

// Has reports whether id is in the set.
func (s IDSet) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// List returns the set's members in arbitrary order.
func (s IDSet) List() []ID {
	out := make([]ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
