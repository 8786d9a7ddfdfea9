// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package prune

import (
	"context"
	"fmt"
	"time"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/index"
	"github.com/vaultpack/vaultpack/pack"
	"github.com/vaultpack/vaultpack/packer"
)

// ExecConfig wires the running components a prune execution needs:
// the backend packs are read from and deleted from, an Indexer
// recording the merged result, a blob Reader for repacking, and one
// Packer per BlobType repack candidates are fed through. Used records
// which blob Ids are still referenced — repacking only copies those
// forward, silently dropping unreferenced blobs.
type ExecConfig struct {
	Backend       backend.Backend
	Indexer       *index.Indexer
	Reader        *index.Reader
	Used          *UsedIDs
	Repackers     map[pack.BlobType]*packer.Packer
	Now           time.Time
	InstantDelete bool
}

// Run executes plans in the commit order of spec §4.10: Keep/Recover
// packs are re-emitted to the new index, Repack candidates are read
// blob-by-blob (deduplicating already-repacked Ids) and fed into the
// matching Repacker, MarkDelete/KeepMarked/KeepMarkedAndCorrect go to
// packs_to_delete, and Delete removes the pack outright. The caller
// finalizes cfg.Repackers and cfg.Indexer afterward (spec §4.10's
// execution step 4).
func Run(ctx context.Context, cfg ExecConfig, plans []*PackPlan) error {
	seen := vaultpack.NewIDSet()

	for _, pp := range plans {
		switch pp.Action {
		case ActionKeep, ActionRecover:
			if err := cfg.Indexer.AddPack(ctx, pp.Pack); err != nil {
				return fmt.Errorf("prune: re-index pack %s: %w", pp.Pack.ID.Short(), err)
			}

		case ActionRepack:
			if err := repackPack(ctx, cfg, pp, seen); err != nil {
				return fmt.Errorf("prune: repack pack %s: %w", pp.Pack.ID.Short(), err)
			}
			cfg.Indexer.AddRemove(pp.Pack)

		case ActionMarkDelete:
			stale := pp.Pack
			stale.Time = cfg.Now
			cfg.Indexer.AddRemove(stale)
			if cfg.InstantDelete {
				if err := cfg.Backend.Remove(ctx, backend.KindPack, pp.Pack.ID, true); err != nil {
					return fmt.Errorf("prune: delete pack %s: %w", pp.Pack.ID.Short(), err)
				}
			}

		case ActionKeepMarked:
			cfg.Indexer.AddRemove(pp.Pack)

		case ActionKeepMarkedAndCorrect:
			corrected := pp.Pack
			corrected.Time = cfg.Now
			cfg.Indexer.AddRemove(corrected)

		case ActionDelete:
			if err := cfg.Backend.Remove(ctx, backend.KindPack, pp.Pack.ID, true); err != nil {
				return fmt.Errorf("prune: delete pack %s: %w", pp.Pack.ID.Short(), err)
			}
		}
	}
	return nil
}

func repackPack(ctx context.Context, cfg ExecConfig, pp *PackPlan, seen vaultpack.IDSet) error {
	for _, b := range pp.Pack.Blobs {
		if !cfg.Used.Has(b.ID) || seen.Has(b.ID) {
			continue
		}
		seen.Insert(b.ID)

		plaintext, err := cfg.Reader.ReadBlob(ctx, b.Type, b.ID)
		if err != nil {
			return fmt.Errorf("read blob %s: %w", b.ID.Short(), err)
		}
		rp, ok := cfg.Repackers[b.Type]
		if !ok {
			return fmt.Errorf("no repacker configured for blob type %v", b.Type)
		}
		if err := rp.Add(ctx, plaintext, b.ID); err != nil {
			return fmt.Errorf("repack blob %s: %w", b.ID.Short(), err)
		}
	}
	return nil
}
