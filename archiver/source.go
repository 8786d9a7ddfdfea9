// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package archiver implements the backup pipeline (spec §4.7): it
// streams filesystem entries from a Source, diffs each file against a
// prior snapshot's Tree to skip unchanged content, chunks and packs
// new content, and assembles the resulting Trees into a new Snapshot.
//
// The content-defined chunker itself is out of scope (spec §1
// Non-goals) and is injected as a Chunker function value.
package archiver

import (
	"context"
	"io"

	"github.com/vaultpack/vaultpack/tree"
)

// Chunker splits the bytes read from r into content-defined chunks,
// invoking yield once per chunk in source byte order. It returns when
// r is exhausted, when yield returns a non-nil error, or when it
// encounters a read error. This is the abstract "chunks of bounded
// size from an iterator" interface spec §1 describes; a concrete
// rolling-hash implementation is out of scope here.
type Chunker func(ctx context.Context, r io.Reader, yield func(chunk []byte) error) error

// Visitor receives the pre-order stream of filesystem entries a
// Source produces. Directory entries are always followed, after all
// descendants, by a matching EndDir call — mirroring the explicit
// frame-push/frame-pop shape spec §4.7 describes.
type Visitor interface {
	Dir(ctx context.Context, relPath string, meta tree.Metadata) error
	File(ctx context.Context, relPath string, meta tree.Metadata, open func() (io.ReadCloser, error)) error
	Symlink(ctx context.Context, relPath string, meta tree.Metadata, target string) error
	Other(ctx context.Context, relPath string, node tree.Node) error
	EndDir(ctx context.Context, relPath string) error
}

// Source drives a Visitor over one backup root.
type Source interface {
	Walk(ctx context.Context, visit Visitor) error
}
