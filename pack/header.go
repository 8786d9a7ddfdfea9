// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package pack implements the on-disk pack file binary format (spec
// §4.3): the four header entry variants, their little-endian encoding,
// and the size-hint read algorithm used to fetch a pack's header
// without downloading the whole file.
package pack

import (
	"encoding/binary"
	"errors"
	"fmt"

	vaultpack "github.com/vaultpack/vaultpack"
)

// BlobType distinguishes Data blobs (file content chunks) from Tree
// blobs (serialized directory entries) within a pack.
type BlobType int

const (
	// Data identifies a content blob.
	Data BlobType = iota
	// Tree identifies a tree blob.
	Tree
)

// String returns "data" or "tree", the wire representation used by
// index and snapshot JSON files.
func (t BlobType) String() string {
	if t == Tree {
		return "tree"
	}
	return "data"
}

// MarshalJSON implements json.Marshaler.
func (t BlobType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *BlobType) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"tree"`:
		*t = Tree
	default:
		*t = Data
	}
	return nil
}

// entryLen is the encoded length of one header entry, depending on
// whether it carries an uncompressed-length field.
const (
	entryLenPlain      = 1 + 4 + vaultpack.IDSize      // tag + len + id = 37
	entryLenCompressed = 1 + 4 + 4 + vaultpack.IDSize  // tag + len + uncompressed_len + id = 41
	// LengthFieldSize is the trailing u32 giving the encrypted header's
	// byte length.
	LengthFieldSize = 4
)

const (
	tagData     = 0
	tagTree     = 1
	tagCompData = 2
	tagCompTree = 3
)

// Entry is one decoded pack header entry: a blob's type, Id, its
// ciphertext length within the pack, and — for compressed entries —
// the length of the blob once decompressed (but still plaintext).
type Entry struct {
	Type               BlobType
	ID                 vaultpack.ID
	Length             uint32
	Compressed         bool
	UncompressedLength uint32 // valid only when Compressed
}

// encodedLen returns the byte length this entry occupies in the
// header.
func (e Entry) encodedLen() int {
	if e.Compressed {
		return entryLenCompressed
	}
	return entryLenPlain
}

// ErrMalformedHeader is returned by Decode and ReadHeader when the
// entry stream cannot be parsed or fails a consistency check.
var ErrMalformedHeader = errors.New("pack: malformed header")

// Encode serializes entries in order, little-endian, into the raw
// (pre-encryption) header byte stream.
func Encode(entries []Entry) []byte {
	size := 0
	for _, e := range entries {
		size += e.encodedLen()
	}
	buf := make([]byte, 0, size)
	for _, e := range entries {
		tag := tagFor(e)
		buf = append(buf, tag)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], e.Length)
		buf = append(buf, lenBuf[:]...)
		if e.Compressed {
			var ulenBuf [4]byte
			binary.LittleEndian.PutUint32(ulenBuf[:], e.UncompressedLength)
			buf = append(buf, ulenBuf[:]...)
		}
		buf = append(buf, e.ID[:]...)
	}
	return buf
}

func tagFor(e Entry) byte {
	switch {
	case e.Type == Data && !e.Compressed:
		return tagData
	case e.Type == Tree && !e.Compressed:
		return tagTree
	case e.Type == Data && e.Compressed:
		return tagCompData
	case e.Type == Tree && e.Compressed:
		return tagCompTree
	default:
		panic("pack: unreachable blob type/compressed combination")
	}
}

// Decode parses a raw (decrypted) header byte stream into entries, in
// order. It returns ErrMalformedHeader if the stream cannot be fully
// consumed as a sequence of valid entries.
func Decode(raw []byte) ([]Entry, error) {
	var entries []Entry
	for len(raw) > 0 {
		tag := raw[0]
		var typ BlobType
		var compressed bool
		switch tag {
		case tagData:
			typ, compressed = Data, false
		case tagTree:
			typ, compressed = Tree, false
		case tagCompData:
			typ, compressed = Data, true
		case tagCompTree:
			typ, compressed = Tree, true
		default:
			return nil, fmt.Errorf("%w: unknown tag byte %d", ErrMalformedHeader, tag)
		}

		need := entryLenPlain
		if compressed {
			need = entryLenCompressed
		}
		if len(raw) < need {
			return nil, fmt.Errorf("%w: truncated entry", ErrMalformedHeader)
		}

		e := Entry{Type: typ, Compressed: compressed}
		e.Length = binary.LittleEndian.Uint32(raw[1:5])
		off := 5
		if compressed {
			e.UncompressedLength = binary.LittleEndian.Uint32(raw[off : off+4])
			off += 4
		}
		copy(e.ID[:], raw[off:off+vaultpack.IDSize])
		off += vaultpack.IDSize

		entries = append(entries, e)
		raw = raw[off:]
	}
	return entries, nil
}
