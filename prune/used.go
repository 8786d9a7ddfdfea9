// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package prune implements the prune planner and executor of spec
// §4.10: load-and-dedupe index files, classify each pack by how much
// of it is still referenced, select repack candidates under size
// caps, verify backend integrity, and trim stale index files.
package prune

import (
	"context"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/tree"
)

// UsedIDs counts, per blob Id, how many live snapshots reference it —
// clamped to 255 so a pathologically duplicated blob can't overflow
// the counter (spec §4.10 phase 2).
type UsedIDs struct {
	counts map[vaultpack.ID]uint8
}

// NewUsedIDs returns an empty UsedIDs multimap.
func NewUsedIDs() *UsedIDs {
	return &UsedIDs{counts: make(map[vaultpack.ID]uint8)}
}

// Add records one more reference to id, saturating at 255.
func (u *UsedIDs) Add(id vaultpack.ID) {
	if u.counts[id] < 255 {
		u.counts[id]++
	}
}

// Has reports whether id is referenced by at least one live snapshot.
func (u *UsedIDs) Has(id vaultpack.ID) bool {
	return u.counts[id] > 0
}

// Count returns id's clamped reference count.
func (u *UsedIDs) Count(id vaultpack.ID) uint8 {
	return u.counts[id]
}

// CollectUsed walks every root (one per non-ignored snapshot) via
// TreeStreamerOnce, recording every tree blob and every file content
// blob it references.
func CollectUsed(ctx context.Context, loader tree.Loader, roots []vaultpack.ID) (*UsedIDs, error) {
	used := NewUsedIDs()
	err := tree.TreeStreamerOnce(ctx, loader, roots, 4, func(id vaultpack.ID, t *tree.Tree) error {
		used.Add(id)
		for _, n := range t.Nodes {
			for _, c := range n.Content {
				used.Add(c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return used, nil
}
