// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"

	"github.com/vaultpack/vaultpack/internal/vlog"
)

// HotCold duplicates Key/Snapshot/Index/Config writes to a fast "hot"
// tier while Pack data lives only on the "cold" tier (spec §4.2). Reads
// of the ambient-metadata kinds prefer hot and fall back to cold; Pack
// reads always go to cold. Removes are applied to both tiers.
type HotCold struct {
	hot  Backend
	cold Backend
	log  *vlog.Logger
}

// NewHotCold returns a HotCold backend duplicating metadata writes
// across hot and cold.
func NewHotCold(hot, cold Backend) *HotCold {
	return &HotCold{hot: hot, cold: cold, log: vlog.Named("backend.hotcold")}
}

func duplicated(kind FileKind) bool {
	return kind != KindPack
}

// List implements Backend. Pack listings always come from cold; the
// duplicated kinds are listed from hot only, so an object whose hot
// mirror write failed (see Write) is missing from the listing.
func (h *HotCold) List(ctx context.Context, kind FileKind) ([][32]byte, error) {
	if duplicated(kind) {
		return h.hot.List(ctx, kind)
	}
	return h.cold.List(ctx, kind)
}

// ListWithSize implements Backend.
func (h *HotCold) ListWithSize(ctx context.Context, kind FileKind) ([]IDSize, error) {
	if duplicated(kind) {
		return h.hot.ListWithSize(ctx, kind)
	}
	return h.cold.ListWithSize(ctx, kind)
}

// ReadFull implements Backend.
func (h *HotCold) ReadFull(ctx context.Context, kind FileKind, id [32]byte) ([]byte, error) {
	if !duplicated(kind) {
		return h.cold.ReadFull(ctx, kind, id)
	}
	data, err := h.hot.ReadFull(ctx, kind, id)
	if err == nil {
		return data, nil
	}
	return h.cold.ReadFull(ctx, kind, id)
}

// ReadPartial implements Backend.
func (h *HotCold) ReadPartial(ctx context.Context, kind FileKind, id [32]byte, cacheable bool, offset, length int64) ([]byte, error) {
	if !duplicated(kind) {
		return h.cold.ReadPartial(ctx, kind, id, cacheable, offset, length)
	}
	data, err := h.hot.ReadPartial(ctx, kind, id, cacheable, offset, length)
	if err == nil {
		return data, nil
	}
	return h.cold.ReadPartial(ctx, kind, id, cacheable, offset, length)
}

// Write implements Backend: Pack data goes to cold only; every other
// kind is written to cold first (the durable source of truth) and then
// mirrored to hot, logging but not failing the operation if the hot
// mirror write fails, since cold succeeding is sufficient for
// durability and hot is a best-effort accelerator.
func (h *HotCold) Write(ctx context.Context, kind FileKind, id [32]byte, cacheable bool, data []byte) error {
	if !duplicated(kind) {
		return h.cold.Write(ctx, kind, id, cacheable, data)
	}
	if err := h.cold.Write(ctx, kind, id, cacheable, data); err != nil {
		return err
	}
	if err := h.hot.Write(ctx, kind, id, cacheable, data); err != nil {
		h.log.Warn("hot mirror write failed", "kind", kind.String(), "id", idHex(id)[:8], "error", err)
	}
	return nil
}

// Remove implements Backend, removing from both tiers. A missing
// object on the hot tier is not an error: it may never have been
// mirrored successfully.
func (h *HotCold) Remove(ctx context.Context, kind FileKind, id [32]byte, cacheable bool) error {
	if !duplicated(kind) {
		return h.cold.Remove(ctx, kind, id, cacheable)
	}
	if err := h.cold.Remove(ctx, kind, id, cacheable); err != nil {
		return fmt.Errorf("backend: hotcold remove from cold: %w", err)
	}
	if err := h.hot.Remove(ctx, kind, id, cacheable); err != nil && err != ErrNotExist {
		h.log.Warn("hot mirror remove failed", "kind", kind.String(), "id", idHex(id)[:8], "error", err)
	}
	return nil
}
