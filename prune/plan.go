// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package prune

import (
	"sort"
	"time"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/index"
	"github.com/vaultpack/vaultpack/pack"
)

// Action is the phase-2 classification's verdict for one pack.
type Action int

const (
	ActionKeep Action = iota
	ActionMarkDelete
	ActionKeepMarked
	ActionKeepMarkedAndCorrect
	ActionRecover
	ActionRepack
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionMarkDelete:
		return "mark-delete"
	case ActionKeepMarked:
		return "keep-marked"
	case ActionKeepMarkedAndCorrect:
		return "keep-marked-and-correct"
	case ActionRecover:
		return "recover"
	case ActionRepack:
		return "repack"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PackPlan is one pack's classification and disposition.
type PackPlan struct {
	Pack         index.Pack
	DeleteMarked bool
	UsedBlobs    int
	UnusedBlobs  int
	UsedSize     int64
	UnusedSize   int64
	Action       Action
	RepackReason string
}

// Options parameterizes phases 2 and 3.
type Options struct {
	Now time.Time

	// KeepPack is the "too young to touch" age threshold.
	KeepPack time.Duration
	// KeepDelete is how long a delete-marked, now-unused pack must age
	// before it is actually deleted.
	KeepDelete time.Duration

	RepackCacheableOnly bool
	RepackAll           bool
	Cacheable           func(pack.BlobType) bool
	ToCompress          func(pack.BlobType) bool
	TargetPackSize      int64

	// MaxRepackBytes caps total (used+unused) bytes moved through
	// repacking; <= 0 means unlimited.
	MaxRepackBytes int64
	// MaxUnusedPercent caps the unused fraction of the repository
	// remaining after prune; <= 0 or >= 100 means no cap.
	MaxUnusedPercent float64

	// MinIndexBlobCount is the minimum blob count (~10000 per spec) an
	// index file must reach to be kept as-is in phase 5.
	MinIndexBlobCount int
}

// Dedupe implements phase 1: across every IndexFile, keep the first
// occurrence of each live pack Id and the first occurrence of each
// delete-marked pack Id, dropping a delete mark entirely if that pack
// Id also appears live. modified[i] reports whether file i's content
// changed as a result (a caller rewriting index files uses this to
// decide which files need re-flushing).
func Dedupe(files []*index.File) (live []index.Pack, toDelete []index.Pack, modified []bool) {
	modified = make([]bool, len(files))

	seenLive := vaultpack.NewIDSet()
	for fi, f := range files {
		for _, p := range f.Packs {
			if seenLive.Has(p.ID) {
				modified[fi] = true
				continue
			}
			seenLive.Insert(p.ID)
			live = append(live, p)
		}
	}

	seenDelete := vaultpack.NewIDSet()
	for fi, f := range files {
		for _, p := range f.PacksToDelete {
			if seenLive.Has(p.ID) || seenDelete.Has(p.ID) {
				modified[fi] = true
				continue
			}
			seenDelete.Insert(p.ID)
			toDelete = append(toDelete, p)
		}
	}
	return live, toDelete, modified
}

// Classify implements phase 2's per-pack classification table.
func Classify(p index.Pack, deleteMarked bool, used *UsedIDs, opts Options) *PackPlan {
	pp := &PackPlan{Pack: p, DeleteMarked: deleteMarked}
	for _, b := range p.Blobs {
		if used.Has(b.ID) {
			pp.UsedBlobs++
			pp.UsedSize += int64(b.Length)
		} else {
			pp.UnusedBlobs++
			pp.UnusedSize += int64(b.Length)
		}
	}

	tooYoung := !p.Time.IsZero() && p.Time.After(opts.Now.Add(-opts.KeepPack))
	var kind pack.BlobType
	if len(p.Blobs) > 0 {
		kind = p.Blobs[0].Type
	}
	keepUncacheable := opts.RepackCacheableOnly && !(opts.Cacheable != nil && opts.Cacheable(kind))

	switch {
	case !deleteMarked && pp.UsedBlobs == 0:
		if tooYoung {
			pp.Action = ActionKeep
		} else {
			pp.Action = ActionMarkDelete
		}

	case !deleteMarked && pp.UsedBlobs > 0 && pp.UnusedBlobs == 0:
		if reason := repackReason(p, kind, opts); reason != "" {
			pp.Action = ActionRepack
			pp.RepackReason = reason
		} else {
			pp.Action = ActionKeep
		}

	case !deleteMarked && pp.UsedBlobs > 0 && pp.UnusedBlobs > 0:
		if tooYoung || keepUncacheable {
			pp.Action = ActionKeep
		} else {
			pp.Action = ActionRepack
			pp.RepackReason = "partly-used"
		}

	case deleteMarked && pp.UsedBlobs == 0:
		switch {
		case p.Time.IsZero():
			pp.Action = ActionKeepMarkedAndCorrect
		case p.Time.Before(opts.Now.Add(-opts.KeepDelete)):
			pp.Action = ActionDelete
		default:
			pp.Action = ActionKeepMarked
		}

	case deleteMarked && pp.UsedBlobs > 0:
		pp.Action = ActionRecover
	}
	return pp
}

func repackReason(p index.Pack, kind pack.BlobType, opts Options) string {
	if opts.RepackAll {
		return "repack-all"
	}
	if opts.ToCompress != nil && opts.ToCompress(kind) {
		for _, b := range p.Blobs {
			if b.UncompressedLength == 0 {
				return "to-compress"
			}
		}
	}
	if opts.TargetPackSize > 0 {
		actual := p.Size
		if actual == 0 {
			actual = p.BlobsSize()
		}
		if actual < opts.TargetPackSize/2 || actual > opts.TargetPackSize*2 {
			return "size-mismatch"
		}
	}
	return ""
}

// SelectRepacks implements phase 3: among packs classified ActionRepack,
// sort by (blob kind, unused/used ratio descending), keep selecting
// while under the MaxRepackBytes cap, and stop selecting once the
// remaining unused-byte total (after the selected packs are repacked)
// is already within MaxUnusedPercent of the repository. Packs dropped
// by either cap revert to ActionKeep — pure size-mismatch candidates
// are the first to be dropped this way, since they are the cheapest to
// leave alone, matching the spec's "size-mismatch only" being the
// lowest-priority repack reason.
func SelectRepacks(plans []*PackPlan, opts Options) {
	var candidates []*PackPlan
	var totalUsed, totalUnused int64
	for _, pp := range plans {
		if pp.Action != ActionRepack {
			continue
		}
		candidates = append(candidates, pp)
		totalUsed += pp.UsedSize
		totalUnused += pp.UnusedSize
	}
	if len(candidates) == 0 {
		return
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ki, kj := blobKind(candidates[i]), blobKind(candidates[j])
		if ki != kj {
			return ki < kj
		}
		return ratio(candidates[i]) > ratio(candidates[j])
	})

	var unusedCap int64 = -1
	if opts.MaxUnusedPercent > 0 && opts.MaxUnusedPercent < 100 {
		p := opts.MaxUnusedPercent
		unusedCap = int64(p * float64(totalUsed) / (100 - p))
	}

	var repacked int64
	remainingUnused := totalUnused
	for _, pp := range candidates {
		size := pp.UsedSize + pp.UnusedSize
		overBudget := opts.MaxRepackBytes > 0 && repacked+size > opts.MaxRepackBytes
		capAlreadyMet := unusedCap >= 0 && remainingUnused <= unusedCap
		if overBudget || capAlreadyMet {
			pp.Action = ActionKeep
			continue
		}
		repacked += size
		remainingUnused -= pp.UnusedSize
	}
}

func blobKind(pp *PackPlan) pack.BlobType {
	if len(pp.Pack.Blobs) > 0 {
		return pp.Pack.Blobs[0].Type
	}
	return pack.Data
}

func ratio(pp *PackPlan) float64 {
	if pp.UsedSize == 0 {
		return 1e18
	}
	return float64(pp.UnusedSize) / float64(pp.UsedSize)
}

// TrimIndex implements phase 5: an index file whose every live pack is
// Keep/KeepMarked-family and whose total blob count reaches
// opts.MinIndexBlobCount is unchanged; smaller or touched files are
// discarded so a later flush rewrites a consolidated replacement.
//
// A lone surviving file is held to a higher bar: when it is the only
// file that would otherwise remain, it must clear soloMinBlobs (twice
// opts.MinIndexBlobCount) to stay unchanged, since it would then be
// carrying the whole repository's trimmed index by itself rather than
// sharing that role with any sibling file. This is a condition
// distinct from the per-file keep test above, not a repeat of it.
func TrimIndex(files []*index.File, plans map[vaultpack.ID]*PackPlan, opts Options) []bool {
	minBlobs := opts.MinIndexBlobCount
	if minBlobs <= 0 {
		minBlobs = 10000
	}
	soloMinBlobs := 2 * minBlobs

	keep := make([]bool, len(files))
	blobCounts := make([]int, len(files))
	remaining := 0
	lone := -1
	for fi, f := range files {
		blobCount := 0
		allSettled := true
		for _, p := range f.Packs {
			blobCount += len(p.Blobs)
			pp, ok := plans[p.ID]
			if !ok {
				allSettled = false
				continue
			}
			switch pp.Action {
			case ActionKeep, ActionKeepMarked, ActionKeepMarkedAndCorrect:
			default:
				allSettled = false
			}
		}
		blobCounts[fi] = blobCount
		keep[fi] = allSettled && blobCount >= minBlobs
		if keep[fi] {
			remaining++
			lone = fi
		}
	}

	if remaining == 1 && blobCounts[lone] < soloMinBlobs {
		keep[lone] = false
	}
	return keep
}
