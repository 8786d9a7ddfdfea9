// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the narrow, byte-oriented object store
// vaultpack's core consumes (spec §4.2): list, read-full, read-partial,
// write, and remove, keyed by (FileKind, Id). Concrete transports
// (local disk, REST, rclone, S3-style) implement Backend; this package
// also provides a local-disk reference implementation and two
// decorators (caching, hot/cold duplication) described by the spec.
package backend

import (
	"context"
	"errors"
)

// FileKind identifies one of the five logical namespaces a repository
// stores objects under.
type FileKind int

const (
	// KindConfig is the single per-repository configuration object.
	KindConfig FileKind = iota
	// KindKey holds key files.
	KindKey
	// KindSnapshot holds snapshot files.
	KindSnapshot
	// KindIndex holds index files.
	KindIndex
	// KindPack holds pack files.
	KindPack
)

// String returns the lowercase directory-style name of k, matching the
// §6.1 layout (config, keys, snapshots, index, data).
func (k FileKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindKey:
		return "keys"
	case KindSnapshot:
		return "snapshots"
	case KindIndex:
		return "index"
	case KindPack:
		return "data"
	default:
		return "unknown"
	}
}

// Cacheable reports whether objects of this kind may be cached by a
// layered caching backend (spec §4.2: Key/Snapshot/Index/Config are
// cacheable ambient metadata). Pack objects are not: the Cache
// decorator never caches them, whatever cacheable flag a caller passes
// to ReadPartial/Write/Remove.
func (k FileKind) Cacheable() bool {
	return k != KindPack
}

// ErrAlreadyExists is returned by Write when an object with the given
// (kind, id) already exists; overwriting an existing Id is forbidden.
var ErrAlreadyExists = errors.New("backend: object already exists")

// ErrNotExist is returned by Read/Remove when no object exists for the
// given (kind, id).
var ErrNotExist = errors.New("backend: object does not exist")

// IDSize entries returned by ListWithSize carry the object's size in bytes, so
// callers that only need sizes (e.g. prune's existing-pack-size check)
// never need a second round trip.
type IDSize struct {
	ID   [32]byte
	Size int64
}

// Backend is the narrow interface the vaultpack core requires from a
// storage transport. Implementations must make Write atomic and
// durable on success, and must reject overwriting an existing Id.
type Backend interface {
	// List returns the Ids of every object of the given kind.
	List(ctx context.Context, kind FileKind) ([][32]byte, error)

	// ListWithSize is like List but also returns each object's size.
	ListWithSize(ctx context.Context, kind FileKind) ([]IDSize, error)

	// ReadFull returns the complete contents of the object (kind, id).
	ReadFull(ctx context.Context, kind FileKind, id [32]byte) ([]byte, error)

	// ReadPartial returns length bytes starting at offset from the
	// object (kind, id). cacheable is a hint a caching decorator may
	// use to decide whether to retain the read.
	ReadPartial(ctx context.Context, kind FileKind, id [32]byte, cacheable bool, offset, length int64) ([]byte, error)

	// Write stores data under (kind, id). It must fail with
	// ErrAlreadyExists if an object already exists at that Id.
	Write(ctx context.Context, kind FileKind, id [32]byte, cacheable bool, data []byte) error

	// Remove deletes the object (kind, id).
	Remove(ctx context.Context, kind FileKind, id [32]byte, cacheable bool) error
}
