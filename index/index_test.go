// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"testing"
	"time"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/pack"
)

func idFor(s string) vaultpack.ID { return vaultpack.Hash([]byte(s)) }

func sampleFiles() []*File {
	packA := Pack{
		ID: idFor("packA"),
		Blobs: []Blob{
			{ID: idFor("data1"), Type: pack.Data, Offset: 0, Length: 10},
			{ID: idFor("tree1"), Type: pack.Tree, Offset: 10, Length: 20},
		},
	}
	packB := Pack{
		ID: idFor("packB"),
		Blobs: []Blob{
			{ID: idFor("data1"), Type: pack.Data, Offset: 0, Length: 10}, // duplicate of packA's data1
			{ID: idFor("data2"), Type: pack.Data, Offset: 10, Length: 30},
		},
	}
	return []*File{{Packs: []Pack{packA, packB}}}
}

func TestBuildFullModeGetAndHas(t *testing.T) {
	idx := Build(Full, sampleFiles())

	pb, ok := idx.Get(pack.Data, idFor("data1"))
	if !ok {
		t.Fatalf("expected data1 to be found")
	}
	if pb.PackID != idFor("packA") {
		t.Fatalf("expected canonical pack to be packA (first seen), got %v", pb.PackID)
	}

	if !idx.Has(pack.Tree, idFor("tree1")) {
		t.Fatalf("expected tree1 present")
	}
	if idx.Has(pack.Data, idFor("nonexistent")) {
		t.Fatalf("expected nonexistent absent")
	}

	if got := idx.TotalSize(pack.Data); got != 40 {
		t.Fatalf("TotalSize(Data) = %d, want 40 (10+30, dedup data1)", got)
	}
}

func TestBuildFullTreesMode(t *testing.T) {
	idx := Build(FullTrees, sampleFiles())

	if _, ok := idx.Get(pack.Data, idFor("data1")); ok {
		t.Fatalf("FullTrees mode must not return a location for Data blobs")
	}
	if !idx.Has(pack.Data, idFor("data1")) {
		t.Fatalf("FullTrees mode must still report membership for Data blobs")
	}
	if !idx.Has(pack.Tree, idFor("tree1")) {
		t.Fatalf("expected tree1 present")
	}
}

func TestBuildOnlyTreesMode(t *testing.T) {
	idx := Build(OnlyTrees, sampleFiles())

	if idx.Has(pack.Data, idFor("data1")) {
		t.Fatalf("OnlyTrees mode must not know about Data blobs at all")
	}
	if !idx.Has(pack.Tree, idFor("tree1")) {
		t.Fatalf("expected tree1 present")
	}
}

func TestIndexPacksUnion(t *testing.T) {
	idx := Build(Full, sampleFiles())
	packs := idx.Packs()
	if len(packs) != 2 {
		t.Fatalf("Packs() = %d entries, want 2", len(packs))
	}
	if !packs.Has(idFor("packA")) || !packs.Has(idFor("packB")) {
		t.Fatalf("Packs() missing expected pack ids: %v", packs)
	}
}

func passthrough(f *File) ([]byte, error) { return f.Encode() }

func TestIndexerFlushesOnPackCountCap(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMem()
	ix := NewIndexer(be, passthrough)

	for i := 0; i < softPackCap-1; i++ {
		if err := ix.AddPack(ctx, Pack{ID: idFor("p")}); err != nil {
			t.Fatalf("AddPack: %v", err)
		}
	}
	ids, err := be.List(ctx, backend.KindIndex)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no flush before cap, got %d index files", len(ids))
	}

	if err := ix.AddPack(ctx, Pack{ID: idFor("last")}); err != nil {
		t.Fatalf("AddPack: %v", err)
	}
	ids, err = be.List(ctx, backend.KindIndex)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one flush at cap, got %d", len(ids))
	}
}

func TestIndexerFlushOnFinalize(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMem()
	ix := NewIndexer(be, passthrough)

	if err := ix.AddPack(ctx, Pack{ID: idFor("only")}); err != nil {
		t.Fatalf("AddPack: %v", err)
	}
	if err := ix.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	ids, err := be.List(ctx, backend.KindIndex)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one flushed index file, got %d", len(ids))
	}

	// Finalize again with nothing pending must not write a second file.
	if err := ix.Finalize(ctx); err != nil {
		t.Fatalf("Finalize (empty): %v", err)
	}
	ids, err = be.List(ctx, backend.KindIndex)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected still one flushed index file after empty finalize, got %d", len(ids))
	}
}

func TestIndexerAddRemoveCarriesToNextFlush(t *testing.T) {
	ctx := context.Background()
	be := backend.NewMem()
	ix := NewIndexer(be, passthrough)

	stale := idFor("stale-pack")
	ix.AddRemove(Pack{ID: stale})
	if err := ix.AddPack(ctx, Pack{ID: idFor("fresh")}); err != nil {
		t.Fatalf("AddPack: %v", err)
	}
	if err := ix.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	ids, err := be.List(ctx, backend.KindIndex)
	if err != nil || len(ids) != 1 {
		t.Fatalf("List: %v, %d ids", err, len(ids))
	}
	raw, err := be.ReadFull(ctx, backend.KindIndex, ids[0])
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(f.PacksToDelete) != 1 || f.PacksToDelete[0].ID != stale {
		t.Fatalf("PacksToDelete = %v, want [%v]", f.PacksToDelete, stale)
	}
}

func TestShouldFlushAgeThreshold(t *testing.T) {
	ix := NewIndexer(backend.NewMem(), passthrough)
	ix.pending.Packs = []Pack{{ID: idFor("p")}}
	ix.pendingSince = time.Now().Add(-maxAge - time.Second)
	if !ix.ShouldFlush() {
		t.Fatalf("expected ShouldFlush true once age threshold elapsed")
	}
}
