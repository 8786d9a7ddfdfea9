// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/vaultpack/vaultpack/index"
	"github.com/vaultpack/vaultpack/packer"
	"github.com/vaultpack/vaultpack/snapshot"
	"github.com/vaultpack/vaultpack/tree"

	vaultpack "github.com/vaultpack/vaultpack"
)

// BackupConfig describes one backup run end to end: the filesystem
// Source to walk, the running Packers/Indexer it feeds, and the
// descriptive fields copied onto the resulting Snapshot.
type BackupConfig struct {
	Source       Source
	Chunker      Chunker
	TreePacker   *packer.Packer
	DataPacker   *packer.Packer
	Indexer      *index.Indexer
	ParentLoader tree.Loader
	Checker      packer.IndexChecker

	ParentRoot       *vaultpack.ID
	ParentSnapshotID *vaultpack.ID

	Paths    []string
	Hostname string
	Username string
	UID      uint32
	GID      uint32
	Label    string
	Tags     []string
	Command  string

	Options []Option
}

// Backup runs the full backup pipeline of spec §4.7: walk, diff,
// chunk-and-pack, then finalize the tree Packer, data Packer, and
// Indexer in that order, fill the Snapshot summary, and return the
// unwritten Snapshot. The caller is responsible for encrypting and
// writing it (mirroring how index.Indexer.Flush is handed an encode
// closure rather than owning encryption itself).
func Backup(ctx context.Context, cfg BackupConfig) (*snapshot.Snapshot, error) {
	now := time.Now()

	a := New(cfg.Chunker, cfg.TreePacker, cfg.DataPacker, cfg.ParentLoader, cfg.Checker, cfg.Options...)
	treeID, err := a.Run(ctx, cfg.Source, cfg.ParentRoot)
	if err != nil {
		return nil, fmt.Errorf("archiver: backup: %w", err)
	}

	treeStats, err := cfg.TreePacker.Finalize()
	if err != nil {
		return nil, fmt.Errorf("archiver: finalize tree packer: %w", err)
	}
	dataStats, err := cfg.DataPacker.Finalize()
	if err != nil {
		return nil, fmt.Errorf("archiver: finalize data packer: %w", err)
	}
	if err := cfg.Indexer.Finalize(ctx); err != nil {
		return nil, fmt.Errorf("archiver: finalize indexer: %w", err)
	}

	summary := a.Summary()
	summary.Command = cfg.Command
	summary.DataAddedFilesPacked = uint64(dataStats.BytesWritten)
	summary.DataAddedTreesPacked = uint64(treeStats.BytesWritten)
	summary.DataAdded = summary.DataAddedFiles + summary.DataAddedTrees
	summary.DataAddedPacked = summary.DataAddedFilesPacked + summary.DataAddedTreesPacked
	summary.Finalize(now, time.Now())

	snap := &snapshot.Snapshot{
		Time:     now,
		Parent:   cfg.ParentSnapshotID,
		Tree:     treeID,
		Label:    cfg.Label,
		Paths:    cfg.Paths,
		Hostname: cfg.Hostname,
		Username: cfg.Username,
		UID:      cfg.UID,
		GID:      cfg.GID,
		Tags:     cfg.Tags,
		Delete:   snapshot.DeleteNotSet,
		Summary:  &summary,
	}
	return snap, nil
}
