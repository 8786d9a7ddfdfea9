// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"encoding/json"
	"time"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/pack"
)

// Blob is the JSON representation of one located blob within an
// IndexPack, mirroring the original repository format's IndexBlob.
type Blob struct {
	ID                 vaultpack.ID  `json:"id"`
	Type               pack.BlobType `json:"type"`
	Offset             uint32        `json:"offset"`
	Length             uint32        `json:"length"`
	UncompressedLength uint32        `json:"uncompressed_length,omitempty"`
}

// Pack is the JSON representation of one pack's contribution to an
// index file.
type Pack struct {
	ID    vaultpack.ID `json:"id"`
	Blobs []Blob       `json:"blobs"`
	Time  time.Time    `json:"time,omitempty"`
	Size  int64        `json:"size,omitempty"`
}

// BlobsSize returns the total ciphertext length of the pack's blobs,
// useful as a cross-check against the persisted Size field.
func (p *Pack) BlobsSize() int64 {
	var total int64
	for _, b := range p.Blobs {
		total += int64(b.Length)
	}
	return total
}

// Add appends a located blob to the pack's entry list.
func (p *Pack) Add(b Blob) {
	p.Blobs = append(p.Blobs, b)
}

// File is the JSON document persisted as one index file: the packs it
// newly describes, plus any packs superseded by this flush becoming
// eligible for deletion (spec §4.4's add_remove path). A pack entry
// lives in exactly one of the two lists, never both, within a single
// live repository view (deduplicated at load time).
type File struct {
	// Supersedes is accepted for wire compatibility with older index
	// files that recorded a merge lineage; this implementation never
	// produces a non-empty value.
	Supersedes    []vaultpack.ID `json:"supersedes,omitempty"`
	Packs         []Pack         `json:"packs"`
	PacksToDelete []Pack         `json:"packs_to_delete,omitempty"`
}

// Encode returns the canonical JSON encoding of f.
func (f *File) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses an index file's JSON encoding.
func Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
