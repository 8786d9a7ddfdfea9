// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package snapshot defines the Snapshot repository file (spec §4.7,
// §6.3): the JSON record pointing at a backed-up Tree, its summary
// statistics, and the retention-facing DeleteOption tri-state.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	vaultpack "github.com/vaultpack/vaultpack"
)

// DeleteOption is the tri-state retention marker carried on every
// Snapshot: unset (subject to forget policy), never (excluded from
// forget), or after a fixed time (auto-eligible for removal once
// passed).
type DeleteOption struct {
	state deleteState
	after time.Time
}

type deleteState int

const (
	deleteNotSet deleteState = iota
	deleteNever
	deleteAfter
)

// DeleteNotSet is the default DeleteOption: ordinary forget-policy
// evaluation applies.
var DeleteNotSet = DeleteOption{state: deleteNotSet}

// DeleteNever marks a snapshot as permanently excluded from forget.
var DeleteNever = DeleteOption{state: deleteNever}

// DeleteAfter marks a snapshot as eligible for removal once t has
// passed.
func DeleteAfter(t time.Time) DeleteOption {
	return DeleteOption{state: deleteAfter, after: t}
}

// IsNotSet reports whether d carries no delete marker.
func (d DeleteOption) IsNotSet() bool { return d.state == deleteNotSet }

// IsNever reports whether d marks the snapshot uneraseable.
func (d DeleteOption) IsNever() bool { return d.state == deleteNever }

// After returns the after-time and true when d is an "after" marker.
func (d DeleteOption) After() (time.Time, bool) {
	return d.after, d.state == deleteAfter
}

type deleteWire struct {
	After *time.Time `json:"after,omitempty"`
}

// MarshalJSON encodes DeleteNotSet as "not-set", DeleteNever as
// "never", and an after-marker as {"after": <time>}, per spec §6.3.
func (d DeleteOption) MarshalJSON() ([]byte, error) {
	switch d.state {
	case deleteNotSet:
		return json.Marshal("not-set")
	case deleteNever:
		return json.Marshal("never")
	case deleteAfter:
		return json.Marshal(deleteWire{After: &d.after})
	default:
		return nil, fmt.Errorf("snapshot: unknown delete state %d", d.state)
	}
}

// UnmarshalJSON implements json.Unmarshaler for DeleteOption.
func (d *DeleteOption) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "not-set", "":
			*d = DeleteNotSet
		case "never":
			*d = DeleteNever
		default:
			return fmt.Errorf("snapshot: unknown delete marker %q", s)
		}
		return nil
	}
	var w deleteWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("snapshot: decode delete marker: %w", err)
	}
	if w.After == nil {
		return fmt.Errorf("snapshot: delete marker missing after time")
	}
	*d = DeleteAfter(*w.After)
	return nil
}

// Summary carries the counters and timing collected by the backup
// pipeline over one archiving run, extending restic's summaryOutput
// shape (spec §4.7, original_source repofile/snapshotfile.rs).
type Summary struct {
	FilesNew             uint64 `json:"files_new,omitempty"`
	FilesChanged         uint64 `json:"files_changed,omitempty"`
	FilesUnmodified      uint64 `json:"files_unmodified,omitempty"`
	DirsNew              uint64 `json:"dirs_new,omitempty"`
	DirsChanged          uint64 `json:"dirs_changed,omitempty"`
	DirsUnmodified       uint64 `json:"dirs_unmodified,omitempty"`
	DataBlobs            uint64 `json:"data_blobs,omitempty"`
	TreeBlobs            uint64 `json:"tree_blobs,omitempty"`
	DataAdded            uint64 `json:"data_added,omitempty"`
	DataAddedPacked      uint64 `json:"data_added_packed,omitempty"`
	DataAddedFiles       uint64 `json:"data_added_files,omitempty"`
	DataAddedFilesPacked uint64 `json:"data_added_files_packed,omitempty"`
	DataAddedTrees       uint64 `json:"data_added_trees,omitempty"`
	DataAddedTreesPacked uint64 `json:"data_added_trees_packed,omitempty"`

	TotalFilesProcessed   uint64  `json:"total_files_processed,omitempty"`
	TotalDirsProcessed    uint64  `json:"total_dirs_processed,omitempty"`
	TotalBytesProcessed   uint64  `json:"total_bytes_processed,omitempty"`
	TotalDirsizeProcessed uint64  `json:"total_dirsize_processed,omitempty"`
	TotalDuration         float64 `json:"total_duration,omitempty"`

	Command        string    `json:"command,omitempty"`
	BackupStart    time.Time `json:"backup_start"`
	BackupEnd      time.Time `json:"backup_end"`
	BackupDuration float64   `json:"backup_duration,omitempty"`
}

// Finalize stamps the end-of-run timing fields: BackupEnd is now,
// BackupDuration is measured from BackupStart, and TotalDuration is
// measured from the snapshot's own time (which may predate
// BackupStart, e.g. when a backup is retried).
func (s *Summary) Finalize(snapTime time.Time, now time.Time) {
	s.BackupEnd = now
	s.BackupDuration = now.Sub(s.BackupStart).Seconds()
	s.TotalDuration = now.Sub(snapTime).Seconds()
}

// Snapshot is the repository file recording one completed backup run
// (spec §4.7, §6.3): identity, the Tree it points at, its lineage,
// and descriptive metadata.
type Snapshot struct {
	ID vaultpack.ID `json:"id,omitempty"`

	Time           time.Time     `json:"time"`
	ProgramVersion string        `json:"program_version,omitempty"`
	Parent         *vaultpack.ID `json:"parent,omitempty"`
	Tree           vaultpack.ID  `json:"tree"`
	Label          string        `json:"label,omitempty"`
	Paths          []string      `json:"paths"`
	Hostname       string        `json:"hostname"`
	Username       string        `json:"username"`
	UID            uint32        `json:"uid"`
	GID            uint32        `json:"gid"`
	Tags           []string      `json:"tags"`
	Original       *vaultpack.ID `json:"original,omitempty"`
	Delete         DeleteOption  `json:"delete"`

	Summary     *Summary `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Encode serializes s to its on-backend JSON form, ready for
// encryption and a Write to backend.KindSnapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a Snapshot JSON payload, as read from
// backend.KindSnapshot and decrypted.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return &s, nil
}

// HasTag reports whether s carries tag.
func (s *Snapshot) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MatchesIDPrefix reports whether s's Id starts with hexPrefix.
func (s *Snapshot) MatchesIDPrefix(hexPrefix string) bool {
	return len(hexPrefix) > 0 && len(s.ID.String()) >= len(hexPrefix) && s.ID.String()[:len(hexPrefix)] == hexPrefix
}
