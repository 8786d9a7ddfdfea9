// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package prune

import (
	"context"
	"fmt"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/vaulterr"
)

// Verify implements phase 4: every pack the plan intends to keep
// (anything but Delete) must exist on the backend at its exact
// expected size, and every blob recorded as used must be resolvable
// to some pack via resolvable. Any violation is fatal and the plan must
// be rejected rather than executed.
func Verify(ctx context.Context, be backend.Backend, plans []*PackPlan, used *UsedIDs, resolvable func(id vaultpack.ID) bool) error {
	sizes, err := be.ListWithSize(ctx, backend.KindPack)
	if err != nil {
		return fmt.Errorf("prune: list packs: %w", err)
	}
	sizeByID := make(map[vaultpack.ID]int64, len(sizes))
	for _, s := range sizes {
		sizeByID[s.ID] = s.Size
	}

	for _, pp := range plans {
		if pp.Action == ActionDelete {
			continue
		}
		got, ok := sizeByID[pp.Pack.ID]
		if !ok {
			return fmt.Errorf("prune: pack %s missing from backend: %w", pp.Pack.ID.Short(), vaulterr.ErrMissingBlob)
		}
		want := pp.Pack.Size
		if want == 0 {
			want = pp.Pack.BlobsSize()
		}
		if want != 0 && got != want {
			return fmt.Errorf("prune: pack %s size mismatch: index says %d, backend has %d", pp.Pack.ID.Short(), want, got)
		}
	}

	for id := range used.counts {
		if !resolvable(id) {
			return fmt.Errorf("prune: used blob %s unresolvable: %w", id.Short(), vaulterr.ErrMissingBlob)
		}
	}
	return nil
}
