// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package index implements the content-addressed blob index: a
// persistent map from blob Id to the pack that holds it (spec §4.4).
// Index is the read-side, immutable once built; Indexer is the
// write-side component the Packer hands finished packs to, buffering
// and periodically flushing IndexFile JSON documents to a Backend.
package index

import (
	"sort"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/pack"
)

// Mode selects how much detail an Index retains, trading memory for
// capability (spec §4.4).
type Mode int

const (
	// Full maps both Tree and Data blobs to their pack location.
	Full Mode = iota
	// FullTrees maps Tree blobs fully but records Data blobs only as a
	// membership set, with no location — enough for presence checks.
	FullTrees
	// OnlyTrees maps Tree blobs only; Data blobs are invisible.
	OnlyTrees
)

// PackedBlob is a located blob: its content Id, kind, which pack holds
// it, and where within that pack.
type PackedBlob struct {
	ID                 vaultpack.ID
	Type               pack.BlobType
	PackID             vaultpack.ID
	Offset             uint32
	Length             uint32
	UncompressedLength uint32
}

type entry struct {
	id     vaultpack.ID
	packed PackedBlob
}

// Index is an immutable, queryable view over a set of IndexFiles. It
// is built once (via Build) and safe for concurrent reads.
type Index struct {
	mode Mode

	data  []entry // sorted by id; may be empty in OnlyTrees mode
	trees []entry // sorted by id; always populated

	dataMembership vaultpack.IDSet // populated instead of `data` in FullTrees mode
}

// Build constructs an Index in the given mode from a set of IndexFiles.
// When the same blob Id appears in more than one pack, the first
// occurrence encountered (in the order packs are given) is kept as the
// canonical location, matching spec §4.4's "duplicate blob Ids... a
// single canonical pack is chosen and remembered".
func Build(mode Mode, files []*File) *Index {
	idx := &Index{mode: mode}
	if mode == FullTrees {
		idx.dataMembership = vaultpack.NewIDSet()
	}

	seenData := make(map[vaultpack.ID]bool)
	seenTree := make(map[vaultpack.ID]bool)

	for _, f := range files {
		for _, p := range f.Packs {
			for _, b := range p.Blobs {
				pb := PackedBlob{
					ID:                 b.ID,
					Type:               b.Type,
					PackID:             p.ID,
					Offset:             b.Offset,
					Length:             b.Length,
					UncompressedLength: b.UncompressedLength,
				}
				switch b.Type {
				case pack.Tree:
					if seenTree[b.ID] {
						continue
					}
					seenTree[b.ID] = true
					idx.trees = append(idx.trees, entry{id: b.ID, packed: pb})
				case pack.Data:
					if mode == OnlyTrees {
						continue
					}
					if mode == FullTrees {
						idx.dataMembership.Insert(b.ID)
						continue
					}
					if seenData[b.ID] {
						continue
					}
					seenData[b.ID] = true
					idx.data = append(idx.data, entry{id: b.ID, packed: pb})
				}
			}
		}
	}

	sort.Slice(idx.trees, func(i, j int) bool { return less(idx.trees[i].id, idx.trees[j].id) })
	sort.Slice(idx.data, func(i, j int) bool { return less(idx.data[i].id, idx.data[j].id) })
	return idx
}

func less(a, b vaultpack.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (idx *Index) slice(kind pack.BlobType) []entry {
	if kind == pack.Tree {
		return idx.trees
	}
	return idx.data
}

func search(entries []entry, id vaultpack.ID) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return !less(entries[i].id, id) })
	if i < len(entries) && entries[i].id == id {
		return i, true
	}
	return 0, false
}

// Get returns the located blob for (kind, id), if known. In FullTrees
// mode, Data blobs are never returned by Get even if present — use Has.
func (idx *Index) Get(kind pack.BlobType, id vaultpack.ID) (PackedBlob, bool) {
	if kind == pack.Data && idx.mode != Full {
		return PackedBlob{}, false
	}
	i, ok := search(idx.slice(kind), id)
	if !ok {
		return PackedBlob{}, false
	}
	return idx.slice(kind)[i].packed, true
}

// Has reports whether the index has any record of (kind, id) — a
// location in Full mode, or bare membership in FullTrees mode for Data
// blobs.
func (idx *Index) Has(kind pack.BlobType, id vaultpack.ID) bool {
	if kind == pack.Data {
		switch idx.mode {
		case Full:
			_, ok := search(idx.data, id)
			return ok
		case FullTrees:
			return idx.dataMembership.Has(id)
		default:
			return false
		}
	}
	_, ok := search(idx.trees, id)
	return ok
}

// TotalSize returns the sum of ciphertext lengths recorded for the
// given kind. In modes where a kind's lengths are not tracked, it
// returns 0.
func (idx *Index) TotalSize(kind pack.BlobType) int64 {
	var total int64
	for _, e := range idx.slice(kind) {
		total += int64(e.packed.Length)
	}
	return total
}

// Packs returns the set of pack Ids referenced by this index.
func (idx *Index) Packs() vaultpack.IDSet {
	set := vaultpack.NewIDSet()
	for _, e := range idx.trees {
		set.Insert(e.packed.PackID)
	}
	for _, e := range idx.data {
		set.Insert(e.packed.PackID)
	}
	return set
}
