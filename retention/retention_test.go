// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package retention

import (
	"testing"
	"time"

	"github.com/vaultpack/vaultpack/snapshot"
)

func mkSnap(t time.Time, tags ...string) *snapshot.Snapshot {
	return &snapshot.Snapshot{Time: t, Tags: tags, Delete: snapshot.DeleteNotSet}
}

func TestKeepLastCountsDownRegardlessOfBucket(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	var snaps []*snapshot.Snapshot
	for i := 0; i < 5; i++ {
		snaps = append(snaps, mkSnap(now.Add(-time.Duration(i)*time.Hour)))
	}
	decisions := Evaluate(now, snaps, KeepOptions{KeepLast: 2})
	kept := 0
	for _, d := range decisions {
		if d.Keep {
			kept++
		}
	}
	if kept != 2 {
		t.Fatalf("kept = %d, want 2", kept)
	}
	if !decisions[0].Keep || !decisions[1].Keep {
		t.Fatalf("expected the two newest snapshots kept")
	}
}

func TestKeepDailyOneBucketPerDay(t *testing.T) {
	base := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	var snaps []*snapshot.Snapshot
	// Two snapshots each day for 5 days.
	for d := 0; d < 5; d++ {
		day := base.Add(-time.Duration(d) * 24 * time.Hour)
		snaps = append(snaps, mkSnap(day.Add(2*time.Hour)))
		snaps = append(snaps, mkSnap(day.Add(10*time.Hour)))
	}
	now := base.Add(24 * time.Hour)
	decisions := Evaluate(now, snaps, KeepOptions{KeepDaily: 3})

	dailyKept := 0
	for _, d := range decisions {
		for _, r := range d.Reasons {
			if r == "daily" {
				dailyKept++
			}
		}
	}
	if dailyKept != 3 {
		t.Fatalf("daily-kept = %d, want 3", dailyKept)
	}
}

func TestDeleteNeverAlwaysKept(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	s := mkSnap(now.Add(-1000 * 24 * time.Hour))
	s.Delete = snapshot.DeleteNever
	decisions := Evaluate(now, []*snapshot.Snapshot{s}, KeepOptions{})
	if !decisions[0].Keep {
		t.Fatalf("expected delete=never snapshot to be kept")
	}
	if decisions[0].Reasons[0] != "snapshot" {
		t.Fatalf("reasons = %v, want [snapshot]", decisions[0].Reasons)
	}
}

func TestDeleteAfterExpiredIsRemovedWithoutMatchingKeepTags(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	s := mkSnap(now.Add(-100 * 24 * time.Hour))
	s.Delete = snapshot.DeleteAfter(now.Add(-time.Hour))
	decisions := Evaluate(now, []*snapshot.Snapshot{s}, KeepOptions{KeepLast: 10})
	if decisions[0].Keep {
		t.Fatalf("expected expired delete=after snapshot to be removed, reasons=%v", decisions[0].Reasons)
	}
}

func TestKeepTagsOverridesExpiredDelete(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	s := mkSnap(now.Add(-100*24*time.Hour), "pinned")
	s.Delete = snapshot.DeleteAfter(now.Add(-time.Hour))
	decisions := Evaluate(now, []*snapshot.Snapshot{s}, KeepOptions{KeepTags: [][]string{{"pinned"}}})
	if !decisions[0].Keep {
		t.Fatalf("expected tagged snapshot to survive expired delete=after")
	}
}

func TestKeepWithinRetainsRecentSnapshots(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	recent := mkSnap(now.Add(-2 * time.Hour))
	old := mkSnap(now.Add(-30 * 24 * time.Hour))
	decisions := Evaluate(now, []*snapshot.Snapshot{recent, old}, KeepOptions{KeepWithin: 24 * time.Hour})
	if !decisions[0].Keep {
		t.Fatalf("expected recent snapshot kept via keep_within")
	}
	if decisions[1].Keep {
		t.Fatalf("expected old snapshot not kept")
	}
}
