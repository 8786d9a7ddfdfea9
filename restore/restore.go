// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"fmt"

	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/crypto"
	"github.com/vaultpack/vaultpack/index"
	"github.com/vaultpack/vaultpack/tree"

	vaultpack "github.com/vaultpack/vaultpack"
)

// Config describes one restore run.
type Config struct {
	Loader  tree.Loader
	Reader  *index.Reader
	Index   *index.Index
	Backend backend.Backend
	Key     crypto.Key

	Root    vaultpack.ID
	DestDir string

	VerifyExisting bool
}

// Result reports what the restore actually did, and any non-fatal
// metadata-pass failures.
type Result struct {
	Plan         *Plan
	MetadataErrs []error
}

// Run drives the full plan/read/metadata pipeline of spec §4.8.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	plan, err := Build(ctx, cfg.Loader, cfg.Reader, cfg.Index, cfg.Root, cfg.DestDir, Options{VerifyExisting: cfg.VerifyExisting})
	if err != nil {
		return nil, fmt.Errorf("restore: plan: %w", err)
	}
	if err := Execute(ctx, cfg.Backend, cfg.Key, cfg.DestDir, plan); err != nil {
		return nil, fmt.Errorf("restore: execute: %w", err)
	}
	metaErrs := ApplyMetadata(cfg.DestDir, plan)
	return &Result{Plan: plan, MetadataErrs: metaErrs}, nil
}
