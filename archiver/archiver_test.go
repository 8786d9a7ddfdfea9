// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package archiver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/crypto"
	"github.com/vaultpack/vaultpack/index"
	"github.com/vaultpack/vaultpack/pack"
	"github.com/vaultpack/vaultpack/packer"
)

type neverHas struct{}

func (neverHas) Has(pack.BlobType, vaultpack.ID) bool { return false }

func mustKey(t *testing.T) crypto.Key {
	t.Helper()
	k, err := crypto.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return k
}

func passthrough(f *index.File) ([]byte, error) { return f.Encode() }

func noDecrypt(data []byte) ([]byte, error) { return data, nil }

// fixedChunker splits the reader's bytes into size-byte chunks, the
// simplest possible Chunker implementation for tests (no content
// definition, just a bound on chunk size).
func fixedChunker(size int) Chunker {
	return func(ctx context.Context, r io.Reader, yield func([]byte) error) error {
		buf := make([]byte, size)
		for {
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if yerr := yield(chunk); yerr != nil {
					return yerr
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

type harness struct {
	be  *backend.Mem
	key crypto.Key
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{be: backend.NewMem(), key: mustKey(t)}
}

func (h *harness) newPackers(t *testing.T, ix *index.Indexer, checker packer.IndexChecker) (tree, data *packer.Packer) {
	t.Helper()
	sizer := packer.DefaultPackSizer(4<<20, 0, 0)
	tp := packer.New(pack.Tree, h.be, h.key, ix, checker, sizer)
	dp := packer.New(pack.Data, h.be, h.key, ix, checker, sizer)
	ctx := context.Background()
	tp.Run(ctx)
	dp.Run(ctx)
	return tp, dp
}

func writeFile(t *testing.T, path string, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

func TestBackupNewRepositoryAllFilesNew(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := t.TempDir()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, filepath.Join(root, "a.txt"), "hello world", now)
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	writeFile(t, filepath.Join(root, "sub", "b.txt"), "nested content", now)

	ix := index.NewIndexer(h.be, passthrough)
	tp, dp := h.newPackers(t, ix, neverHas{})

	cfg := BackupConfig{
		Source:   &LocalSource{Root: root},
		Chunker:  fixedChunker(4096),
		TreePacker: tp,
		DataPacker: dp,
		Indexer:  ix,
		Checker:  neverHas{},
		Paths:    []string{root},
		Hostname: "testhost",
		Username: "tester",
		Command:  "backup",
	}

	snap, err := Backup(ctx, cfg)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if snap.Tree.IsZero() {
		t.Fatalf("expected non-zero tree id")
	}
	if snap.Summary.FilesNew != 2 {
		t.Fatalf("FilesNew = %d, want 2", snap.Summary.FilesNew)
	}
	if snap.Summary.DirsNew != 1 {
		t.Fatalf("DirsNew = %d, want 1", snap.Summary.DirsNew)
	}
	if snap.Summary.FilesUnmodified != 0 {
		t.Fatalf("FilesUnmodified = %d, want 0", snap.Summary.FilesUnmodified)
	}
}

func TestBackupSecondRunSkipsUnchangedFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := t.TempDir()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	unchangedPath := filepath.Join(root, "unchanged.txt")
	changedPath := filepath.Join(root, "changed.txt")
	writeFile(t, unchangedPath, "same forever", now)
	writeFile(t, changedPath, "version one", now)

	ix1 := index.NewIndexer(h.be, passthrough)
	tp1, dp1 := h.newPackers(t, ix1, neverHas{})

	cfg1 := BackupConfig{
		Source:     &LocalSource{Root: root},
		Chunker:    fixedChunker(4096),
		TreePacker: tp1,
		DataPacker: dp1,
		Indexer:    ix1,
		Checker:    neverHas{},
		Paths:      []string{root},
	}
	snap1, err := Backup(ctx, cfg1)
	if err != nil {
		t.Fatalf("first Backup: %v", err)
	}

	files, err := index.LoadAll(ctx, h.be, noDecrypt)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	idx := index.Build(index.Full, files)
	loader := index.NewReader(h.be, h.key, idx)

	later := now.Add(time.Hour)
	writeFile(t, changedPath, "version two, much longer than before", later)

	ix2 := index.NewIndexer(h.be, passthrough)
	tp2, dp2 := h.newPackers(t, ix2, idx)

	cfg2 := BackupConfig{
		Source:           &LocalSource{Root: root},
		Chunker:          fixedChunker(4096),
		TreePacker:       tp2,
		DataPacker:       dp2,
		Indexer:          ix2,
		Checker:          idx,
		ParentLoader:     loader,
		ParentRoot:       &snap1.Tree,
		ParentSnapshotID: &snap1.ID,
		Paths:            []string{root},
	}
	snap2, err := Backup(ctx, cfg2)
	if err != nil {
		t.Fatalf("second Backup: %v", err)
	}

	if snap2.Summary.FilesUnmodified != 1 {
		t.Fatalf("FilesUnmodified = %d, want 1", snap2.Summary.FilesUnmodified)
	}
	if snap2.Summary.FilesChanged != 1 {
		t.Fatalf("FilesChanged = %d, want 1", snap2.Summary.FilesChanged)
	}
	if snap2.Summary.FilesNew != 0 {
		t.Fatalf("FilesNew = %d, want 0", snap2.Summary.FilesNew)
	}
}
