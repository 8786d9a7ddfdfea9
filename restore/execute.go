// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/crypto"
	"github.com/vaultpack/vaultpack/pack"
)

// maxConcurrentPackReads bounds the worker pool restore uses for
// per-pack reads (spec §4.8/§5: "a thread pool bounded by a small
// constant (≤ 20 readers)").
const maxConcurrentPackReads = 20

// readSpan is one coalesced ReadPartial call: a contiguous run of
// blobs within a pack, read in a single backend round trip (spec
// §4.8's "coalesce adjacent blob reads within the same pack").
type readSpan struct {
	start  int64
	length int64
	blobs  []planBlob
}

func buildSpans(blobs []planBlob) []readSpan {
	sorted := make([]planBlob, len(blobs))
	copy(sorted, blobs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].loc.Offset < sorted[j].loc.Offset })

	var spans []readSpan
	for _, b := range sorted {
		start := int64(b.loc.Offset)
		end := start + int64(b.loc.Length)
		if n := len(spans); n > 0 && spans[n-1].start+spans[n-1].length == start {
			spans[n-1].length = end - spans[n-1].start
			spans[n-1].blobs = append(spans[n-1].blobs, b)
			continue
		}
		spans = append(spans, readSpan{start: start, length: end - start, blobs: []planBlob{b}})
	}
	return spans
}

// Execute runs the read pass of spec §4.8: it applies the directory,
// deletion, and symlink operations of plan, then performs the
// coalesced per-pack reads needed to populate every planned file's
// content.
func Execute(ctx context.Context, be backend.Backend, key crypto.Key, destRoot string, plan *Plan) error {
	for _, rel := range plan.Deletes {
		if err := os.RemoveAll(filepath.Join(destRoot, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("restore: delete %s: %w", rel, err)
		}
	}
	for _, rel := range plan.Dirs {
		if err := os.MkdirAll(filepath.Join(destRoot, filepath.FromSlash(rel)), 0o755); err != nil {
			return fmt.Errorf("restore: mkdir %s: %w", rel, err)
		}
	}
	for _, e := range plan.Entries {
		if e.Action != ActionCreateSymlink {
			continue
		}
		dest := filepath.Join(destRoot, filepath.FromSlash(e.Path))
		if err := os.Symlink(e.Node.LinkTarget, dest); err != nil {
			return fmt.Errorf("restore: symlink %s: %w", e.Path, err)
		}
	}

	files := make([]*os.File, len(plan.Files))
	var filesMu sync.Mutex
	defer func() {
		for _, f := range files {
			if f != nil {
				f.Close()
			}
		}
	}()
	openFile := func(idx int) (*os.File, error) {
		filesMu.Lock()
		defer filesMu.Unlock()
		if files[idx] != nil {
			return files[idx], nil
		}
		spec := plan.Files[idx]
		dest := filepath.Join(destRoot, filepath.FromSlash(spec.Path))
		f, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		if err := f.Truncate(spec.Size); err != nil {
			f.Close()
			return nil, err
		}
		files[idx] = f
		return f, nil
	}

	type job struct {
		packID vaultpack.ID
		group  *packGroup
	}
	jobs := make(chan job, len(plan.byPack))
	for packID, group := range plan.byPack {
		jobs <- job{packID: packID, group: group}
	}
	close(jobs)

	numWorkers := maxConcurrentPackReads
	if len(plan.byPack) < numWorkers {
		numWorkers = len(plan.byPack)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		eg.Go(func() error {
			for j := range jobs {
				if err := egCtx.Err(); err != nil {
					return err
				}
				if err := readPack(egCtx, be, key, j.packID, j.group, openFile, plan.Files); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}

// readPack performs the coalesced reads for one pack's worth of
// planned blobs and writes each decoded blob to its destination
// file(s) at the planned offsets.
func readPack(ctx context.Context, be backend.Backend, key crypto.Key, packID vaultpack.ID, group *packGroup, openFile func(int) (*os.File, error), planFiles []FileSpec) error {
	spans := buildSpans(group.blobs)
	for _, span := range spans {
		raw, err := be.ReadPartial(ctx, backend.KindPack, packID, true, span.start, span.length)
		if err != nil {
			return fmt.Errorf("restore: read pack %s: %w", packID.Short(), err)
		}
		for _, b := range span.blobs {
			rel := int64(b.loc.Offset) - span.start
			ciphertext := raw[rel : rel+int64(b.loc.Length)]
			plaintext, err := decodeBlob(key, ciphertext, b.loc.UncompressedLength)
			if err != nil {
				return fmt.Errorf("restore: decode blob %s: %w", b.id.Short(), err)
			}
			for _, w := range b.writes {
				f, err := openFile(w.fileIdx)
				if err != nil {
					return fmt.Errorf("restore: open %s: %w", planFiles[w.fileIdx].Path, err)
				}
				if _, err := f.WriteAt(plaintext, w.offsetInFile); err != nil {
					return fmt.Errorf("restore: write %s: %w", planFiles[w.fileIdx].Path, err)
				}
			}
		}
	}
	return nil
}

func decodeBlob(key crypto.Key, ciphertext []byte, uncompressedLength uint32) ([]byte, error) {
	plaintext, err := crypto.Decrypt(key, ciphertext)
	if err != nil {
		return nil, err
	}
	if uncompressedLength == 0 {
		return plaintext, nil
	}
	return pack.Decompress(plaintext, int(uncompressedLength))
}
