// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/internal/vlog"
)

// softPackCap and maxAge implement spec §4.4's flush policy: an
// Indexer flushes when either the number of packs buffered in the
// pending file reaches softPackCap, or maxAge has elapsed since the
// first pack was added to the pending file — whichever comes first.
const (
	softPackCap = 50000
	maxAge      = 5 * time.Minute
)

// Indexer accumulates IndexPack entries handed to it by a Packer (one
// per finalized pack) and periodically flushes them as new, immutable
// index files. It never mutates an existing index file: every flush
// writes a brand new File under a freshly computed Id.
type Indexer struct {
	mu     sync.RWMutex
	be     backend.Backend
	encode func(*File) ([]byte, error)
	log    *vlog.Logger

	pending      File
	pendingSince time.Time
}

// NewIndexer returns an Indexer that writes flushed files to be via
// encode, which must produce the bytes to store (typically JSON then
// AEAD-encrypted by the caller).
func NewIndexer(be backend.Backend, encode func(*File) ([]byte, error)) *Indexer {
	return &Indexer{
		be:     be,
		encode: encode,
		log:    vlog.Named("index.indexer"),
	}
}

// AddPack records a finalized pack's contents for the next flush.
func (ix *Indexer) AddPack(ctx context.Context, p Pack) error {
	ix.mu.Lock()
	if len(ix.pending.Packs) == 0 {
		ix.pendingSince = time.Now()
	}
	ix.pending.Packs = append(ix.pending.Packs, p)
	full := ix.shouldFlushLocked()
	ix.mu.Unlock()

	if full {
		return ix.Flush(ctx)
	}
	return nil
}

// AddRemove marks a pack Id for deletion in the next flushed index
// file's packs_to_delete list (spec §4.4's add_remove path), without
// itself triggering a flush.
func (ix *Indexer) AddRemove(p Pack) {
	if p.Time.IsZero() {
		p.Time = time.Now()
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.pending.PacksToDelete = append(ix.pending.PacksToDelete, p)
}

func (ix *Indexer) shouldFlushLocked() bool {
	if len(ix.pending.Packs) == 0 {
		return false
	}
	if len(ix.pending.Packs) >= softPackCap {
		return true
	}
	return time.Since(ix.pendingSince) >= maxAge
}

// ShouldFlush reports whether the pending file currently qualifies for
// a flush under the soft-cap/age policy. Callers running a background
// ticker can poll this instead of waiting for AddPack to trip it.
func (ix *Indexer) ShouldFlush() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.shouldFlushLocked()
}

// Flush writes the currently pending file as a new index file and
// resets the buffer. It is a no-op if nothing is pending.
func (ix *Indexer) Flush(ctx context.Context) error {
	ix.mu.Lock()
	if len(ix.pending.Packs) == 0 && len(ix.pending.PacksToDelete) == 0 {
		ix.mu.Unlock()
		return nil
	}
	file := ix.pending
	ix.pending = File{}
	ix.pendingSince = time.Time{}
	ix.mu.Unlock()

	data, err := ix.encode(&file)
	if err != nil {
		return fmt.Errorf("index: encode flush: %w", err)
	}
	id := vaultpack.Hash(data)
	if err := ix.be.Write(ctx, backend.KindIndex, id, true, data); err != nil {
		return fmt.Errorf("index: write flush: %w", err)
	}
	// opID correlates this flush across log lines the way the
	// teacher's types.Provenance tags a process with a uuid.New()
	// instance id, letting concurrent pack/index writes in one backup
	// run be grouped in logs.
	opID := uuid.New()
	ix.log.Info("flushed index file", "op", opID.String(), "id", id.Short(), "packs", len(file.Packs), "packs_to_delete", len(file.PacksToDelete))
	return nil
}

// Finalize flushes any remaining pending entries. It must be called
// once no more packs will be added.
func (ix *Indexer) Finalize(ctx context.Context) error {
	return ix.Flush(ctx)
}

// LoadAll reads and decodes every index file currently stored on be.
func LoadAll(ctx context.Context, be backend.Backend, decrypt func([]byte) ([]byte, error)) ([]*File, error) {
	ids, err := be.List(ctx, backend.KindIndex)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	files := make([]*File, 0, len(ids))
	for _, id := range ids {
		raw, err := be.ReadFull(ctx, backend.KindIndex, id)
		if err != nil {
			return nil, fmt.Errorf("index: read %s: %w", vaultpack.ID(id).Short(), err)
		}
		plain, err := decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("index: decrypt %s: %w", vaultpack.ID(id).Short(), err)
		}
		f, err := Decode(plain)
		if err != nil {
			return nil, fmt.Errorf("index: parse %s: %w", vaultpack.ID(id).Short(), err)
		}
		files = append(files, f)
	}
	return files, nil
}
