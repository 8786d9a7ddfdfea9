// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package prune

import (
	"testing"
	"time"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/index"
	"github.com/vaultpack/vaultpack/pack"
)

func id(b byte) vaultpack.ID {
	var raw [32]byte
	raw[0] = b
	return vaultpack.ID(raw)
}

func TestDedupeDropsDuplicatesAndConflictingDeleteMarks(t *testing.T) {
	packA := index.Pack{ID: id(1)}
	packB := index.Pack{ID: id(2)}

	files := []*index.File{
		{Packs: []index.Pack{packA}},
		{Packs: []index.Pack{packA}, PacksToDelete: []index.Pack{packB}}, // dup live pack A
		{PacksToDelete: []index.Pack{packA}},                             // A also marked delete elsewhere: must be dropped
	}

	live, toDelete, modified := Dedupe(files)
	if len(live) != 1 || live[0].ID != packA.ID {
		t.Fatalf("live = %+v, want just packA", live)
	}
	if len(toDelete) != 1 || toDelete[0].ID != packB.ID {
		t.Fatalf("toDelete = %+v, want just packB", toDelete)
	}
	if !modified[1] {
		t.Fatalf("expected file 1 to be flagged modified (duplicate live pack)")
	}
	if !modified[2] {
		t.Fatalf("expected file 2 to be flagged modified (delete mark on a live pack)")
	}
}

func TestClassifyUnusedOldPackMarksForDelete(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := index.Pack{
		ID:   id(1),
		Time: now.Add(-48 * time.Hour),
		Blobs: []index.Blob{
			{ID: id(9), Type: pack.Data, Length: 100},
		},
	}
	used := NewUsedIDs()
	opts := Options{Now: now, KeepPack: time.Hour}

	pp := Classify(p, false, used, opts)
	if pp.Action != ActionMarkDelete {
		t.Fatalf("Action = %v, want ActionMarkDelete", pp.Action)
	}
}

func TestClassifyTooYoungUnusedPackIsKept(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := index.Pack{
		ID:   id(1),
		Time: now.Add(-time.Minute),
		Blobs: []index.Blob{
			{ID: id(9), Type: pack.Data, Length: 100},
		},
	}
	used := NewUsedIDs()
	opts := Options{Now: now, KeepPack: time.Hour}

	pp := Classify(p, false, used, opts)
	if pp.Action != ActionKeep {
		t.Fatalf("Action = %v, want ActionKeep", pp.Action)
	}
}

func TestClassifyPartlyUsedBecomesRepackCandidate(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := index.Pack{
		ID:   id(1),
		Time: now.Add(-48 * time.Hour),
		Blobs: []index.Blob{
			{ID: id(9), Type: pack.Data, Length: 100},
			{ID: id(10), Type: pack.Data, Length: 50},
		},
	}
	used := NewUsedIDs()
	used.Add(id(9))
	opts := Options{Now: now, KeepPack: time.Hour}

	pp := Classify(p, false, used, opts)
	if pp.Action != ActionRepack || pp.RepackReason != "partly-used" {
		t.Fatalf("Action = %v reason=%q, want ActionRepack/partly-used", pp.Action, pp.RepackReason)
	}
	if pp.UsedBlobs != 1 || pp.UnusedBlobs != 1 {
		t.Fatalf("UsedBlobs=%d UnusedBlobs=%d, want 1/1", pp.UsedBlobs, pp.UnusedBlobs)
	}
}

func TestClassifyMarkedPackWithUsedBlobsRecovers(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := index.Pack{
		ID:   id(1),
		Time: now.Add(-48 * time.Hour),
		Blobs: []index.Blob{
			{ID: id(9), Type: pack.Data, Length: 100},
		},
	}
	used := NewUsedIDs()
	used.Add(id(9))
	opts := Options{Now: now, KeepPack: time.Hour, KeepDelete: time.Hour}

	pp := Classify(p, true, used, opts)
	if pp.Action != ActionRecover {
		t.Fatalf("Action = %v, want ActionRecover", pp.Action)
	}
}

func TestClassifyMarkedUnusedPackWaitsOutKeepDelete(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := index.Pack{ID: id(1), Time: now.Add(-time.Minute)}
	used := NewUsedIDs()
	opts := Options{Now: now, KeepDelete: time.Hour}

	pp := Classify(p, true, used, opts)
	if pp.Action != ActionKeepMarked {
		t.Fatalf("Action = %v, want ActionKeepMarked", pp.Action)
	}
}

func TestClassifyMarkedUnusedPackPastKeepDeleteIsDeleted(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	p := index.Pack{ID: id(1), Time: now.Add(-48 * time.Hour)}
	used := NewUsedIDs()
	opts := Options{Now: now, KeepDelete: time.Hour}

	pp := Classify(p, true, used, opts)
	if pp.Action != ActionDelete {
		t.Fatalf("Action = %v, want ActionDelete", pp.Action)
	}
}

func TestSelectRepacksCapsByMaxRepackBytes(t *testing.T) {
	lowRatio := &PackPlan{Pack: index.Pack{ID: id(1), Blobs: []index.Blob{{Type: pack.Data}}}, Action: ActionRepack, UsedSize: 100, UnusedSize: 100, RepackReason: "partly-used"}
	highRatio := &PackPlan{Pack: index.Pack{ID: id(2), Blobs: []index.Blob{{Type: pack.Data}}}, Action: ActionRepack, UsedSize: 50, UnusedSize: 150, RepackReason: "partly-used"}
	plans := []*PackPlan{lowRatio, highRatio}

	SelectRepacks(plans, Options{MaxRepackBytes: 300})

	if highRatio.Action != ActionRepack {
		t.Fatalf("expected the higher unused/used ratio candidate to stay selected for repack")
	}
	if lowRatio.Action != ActionKeep {
		t.Fatalf("expected the lower-ratio candidate to be demoted to Keep once the budget is spent")
	}
}

func TestTrimIndexDropsSmallOrUnsettledFiles(t *testing.T) {
	bigBlobs := make([]index.Blob, 20000)
	for i := range bigBlobs {
		bigBlobs[i] = index.Blob{ID: id(byte(i % 255))}
	}
	bigPack := index.Pack{ID: id(1), Blobs: bigBlobs}
	smallPack := index.Pack{ID: id(2), Blobs: []index.Blob{{ID: id(9)}}}

	files := []*index.File{
		{Packs: []index.Pack{bigPack}},
		{Packs: []index.Pack{smallPack}},
	}
	plans := map[vaultpack.ID]*PackPlan{
		id(1): {Action: ActionKeep},
		id(2): {Action: ActionKeep},
	}

	keep := TrimIndex(files, plans, Options{MinIndexBlobCount: 10000})
	if !keep[0] {
		t.Fatalf("expected the large, fully-settled index file to survive trimming")
	}
	if keep[1] {
		t.Fatalf("expected the small index file to be trimmed")
	}
}

func TestTrimIndexDropsLoneSurvivorBelowSoloThreshold(t *testing.T) {
	blobs := make([]index.Blob, 12000)
	for i := range blobs {
		blobs[i] = index.Blob{ID: id(byte(i % 255))}
	}
	p := index.Pack{ID: id(1), Blobs: blobs}
	files := []*index.File{{Packs: []index.Pack{p}}}
	plans := map[vaultpack.ID]*PackPlan{id(1): {Action: ActionKeep}}

	keep := TrimIndex(files, plans, Options{MinIndexBlobCount: 10000})
	if keep[0] {
		t.Fatalf("expected the lone surviving file (12000 blobs) below the 20000 solo threshold to be trimmed")
	}
}
