// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package retention implements the forget (retention) policy evaluator
// of spec §4.9: given a group of snapshots and a KeepOptions record, it
// decides which snapshots to keep and records why.
package retention

import (
	"fmt"
	"sort"
	"time"

	"github.com/vaultpack/vaultpack/snapshot"
)

// KeepOptions is the forget policy a group of snapshots is evaluated
// against. N = -1 means unlimited (every bucket transition is kept); N
// = 0 means the bucket never contributes a keep reason.
type KeepOptions struct {
	KeepLast          int
	KeepHourly        int
	KeepDaily         int
	KeepWeekly        int
	KeepMonthly       int
	KeepQuarterYearly int
	KeepHalfYearly    int
	KeepYearly        int

	KeepWithin            time.Duration
	KeepWithinHourly      time.Duration
	KeepWithinDaily       time.Duration
	KeepWithinWeekly      time.Duration
	KeepWithinMonthly     time.Duration
	KeepWithinQuarterYear time.Duration
	KeepWithinHalfYear    time.Duration
	KeepWithinYearly      time.Duration

	KeepTags [][]string
	KeepIDs  []string
}

// Decision is the outcome for one snapshot: whether it survives and
// the accumulated reasons (possibly more than one — e.g. "daily" and
// "within").
type Decision struct {
	Snapshot *snapshot.Snapshot
	Keep     bool
	Reasons  []string
}

// GroupResult is the evaluation output for one snapshot group.
type GroupResult struct {
	Key       string
	Decisions []Decision
}

type bucket struct {
	remaining int
	hasLast   bool
	lastKey   string
}

// consider applies the bucket's keep-N rule for the given key,
// returning true (and consuming one unit of the bucket's remaining
// budget, unless unlimited) when key differs from the previously kept
// key in this bucket.
func (b *bucket) consider(key string) bool {
	if b.remaining == 0 {
		return false
	}
	if b.hasLast && key == b.lastKey {
		return false
	}
	b.hasLast = true
	b.lastKey = key
	if b.remaining > 0 {
		b.remaining--
	}
	return true
}

func hourKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d-%02d", t.Year(), t.Month(), t.Day(), t.Hour())
}

func dayKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
}

func weekKey(t time.Time) string {
	y, w := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

func monthKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), t.Month())
}

func quarterKey(t time.Time) string {
	q := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%04d-Q%d", t.Year(), q)
}

func halfYearKey(t time.Time) string {
	h := (int(t.Month())-1)/6 + 1
	return fmt.Sprintf("%04d-H%d", t.Year(), h)
}

func yearKey(t time.Time) string {
	return fmt.Sprintf("%04d", t.Year())
}

func matchesTags(s *snapshot.Snapshot, tagLists [][]string) bool {
	for _, tags := range tagLists {
		all := true
		for _, tag := range tags {
			if !s.HasTag(tag) {
				all = false
				break
			}
		}
		if all && len(tags) > 0 {
			return true
		}
	}
	return false
}

func matchesIDs(s *snapshot.Snapshot, prefixes []string) bool {
	for _, p := range prefixes {
		if s.MatchesIDPrefix(p) {
			return true
		}
	}
	return false
}

func withinKeep(t, latest time.Time, d time.Duration) bool {
	if d <= 0 {
		return false
	}
	lower := latest.Add(-d)
	return t.After(lower) && !t.After(latest)
}

// Evaluate applies opts to one group of snapshots (already filtered to
// a single {hostname, label, paths, tags} bucket by the caller) and
// returns a Decision per snapshot, newest first.
func Evaluate(now time.Time, snapshots []*snapshot.Snapshot, opts KeepOptions) []Decision {
	sorted := make([]*snapshot.Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.After(sorted[j].Time) })

	if len(sorted) == 0 {
		return nil
	}
	latest := sorted[0].Time

	last := bucket{remaining: opts.KeepLast}
	hourly := bucket{remaining: opts.KeepHourly}
	daily := bucket{remaining: opts.KeepDaily}
	weekly := bucket{remaining: opts.KeepWeekly}
	monthly := bucket{remaining: opts.KeepMonthly}
	quarterly := bucket{remaining: opts.KeepQuarterYearly}
	halfYearly := bucket{remaining: opts.KeepHalfYearly}
	yearly := bucket{remaining: opts.KeepYearly}

	decisions := make([]Decision, 0, len(sorted))
	for i, s := range sorted {
		var reasons []string

		tagged := matchesTags(s, opts.KeepTags)
		if tagged {
			reasons = append(reasons, "tags")
		}
		if matchesIDs(s, opts.KeepIDs) {
			reasons = append(reasons, "id")
		}

		switch {
		case s.Delete.IsNever():
			reasons = append(reasons, "snapshot")
		case isExpired(s, now):
			// removal forced unless keep_tags/keep_ids already saved it
		default:
			if last.consider(fmt.Sprintf("last-%d", i)) {
				reasons = append(reasons, "last")
			}
			if hourly.consider(hourKey(s.Time)) {
				reasons = append(reasons, "hourly")
			}
			if daily.consider(dayKey(s.Time)) {
				reasons = append(reasons, "daily")
			}
			if weekly.consider(weekKey(s.Time)) {
				reasons = append(reasons, "weekly")
			}
			if monthly.consider(monthKey(s.Time)) {
				reasons = append(reasons, "monthly")
			}
			if quarterly.consider(quarterKey(s.Time)) {
				reasons = append(reasons, "quarter-yearly")
			}
			if halfYearly.consider(halfYearKey(s.Time)) {
				reasons = append(reasons, "half-yearly")
			}
			if yearly.consider(yearKey(s.Time)) {
				reasons = append(reasons, "yearly")
			}

			if withinKeep(s.Time, latest, opts.KeepWithin) {
				reasons = append(reasons, "within")
			}
			if withinKeep(s.Time, latest, opts.KeepWithinHourly) {
				reasons = append(reasons, "within-hourly")
			}
			if withinKeep(s.Time, latest, opts.KeepWithinDaily) {
				reasons = append(reasons, "within-daily")
			}
			if withinKeep(s.Time, latest, opts.KeepWithinWeekly) {
				reasons = append(reasons, "within-weekly")
			}
			if withinKeep(s.Time, latest, opts.KeepWithinMonthly) {
				reasons = append(reasons, "within-monthly")
			}
			if withinKeep(s.Time, latest, opts.KeepWithinQuarterYear) {
				reasons = append(reasons, "within-quarter-yearly")
			}
			if withinKeep(s.Time, latest, opts.KeepWithinHalfYear) {
				reasons = append(reasons, "within-half-yearly")
			}
			if withinKeep(s.Time, latest, opts.KeepWithinYearly) {
				reasons = append(reasons, "within-yearly")
			}
		}

		decisions = append(decisions, Decision{Snapshot: s, Keep: len(reasons) > 0, Reasons: reasons})
	}
	return decisions
}

func isExpired(s *snapshot.Snapshot, now time.Time) bool {
	after, ok := s.Delete.After()
	return ok && after.Before(now)
}
