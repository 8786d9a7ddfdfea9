// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vaultpack/vaultpack/archiver"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/crypto"
	"github.com/vaultpack/vaultpack/index"
	vaultpackpack "github.com/vaultpack/vaultpack/pack"
	"github.com/vaultpack/vaultpack/packer"

	vaultpack "github.com/vaultpack/vaultpack"
)

type neverHas struct{}

func (neverHas) Has(vaultpackpack.BlobType, vaultpack.ID) bool { return false }

func passthrough(f *index.File) ([]byte, error) { return f.Encode() }
func noDecrypt(data []byte) ([]byte, error)     { return data, nil }

func fixedChunker(size int) archiver.Chunker {
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

func backupFixture(t *testing.T, be *backend.Mem, key crypto.Key, srcRoot string) vaultpack.ID {
	t.Helper()
	ctx := context.Background()
	ix := index.NewIndexer(be, passthrough)
	sizer := packer.DefaultPackSizer(4<<20, 0, 0)
	tp := packer.New(vaultpackpack.Tree, be, key, ix, neverHas{}, sizer)
	dp := packer.New(vaultpackpack.Data, be, key, ix, neverHas{}, sizer)
	tp.Run(ctx)
	dp.Run(ctx)

	cfg := archiver.BackupConfig{
		Source:     &archiver.LocalSource{Root: srcRoot},
		Chunker:    fixedChunker(4096),
		TreePacker: tp,
		DataPacker: dp,
		Indexer:    ix,
		Checker:    neverHas{},
		Paths:      []string{srcRoot},
		Command:    "backup",
	}
	snap, err := archiver.Backup(ctx, cfg)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	return snap.Tree
}

func loadIndex(t *testing.T, be *backend.Mem) *index.Index {
	t.Helper()
	files, err := index.LoadAll(context.Background(), be, noDecrypt)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	return index.Build(index.Full, files)
}

func TestRestoreRecreatesFreshDirectory(t *testing.T) {
	be := backend.NewMem()
	key, err := crypto.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}

	src := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	os.Chtimes(filepath.Join(src, "a.txt"), now, now)
	if err := os.Mkdir(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	nested := "nested content spanning more than one chunk boundary perhaps"
	if err := os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte(nested), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	os.Chtimes(filepath.Join(src, "sub", "b.txt"), now, now)

	root := backupFixture(t, be, key, src)
	idx := loadIndex(t, be)
	reader := index.NewReader(be, key, idx)

	dest := filepath.Join(t.TempDir(), "restored")
	ctx := context.Background()
	res, err := Run(ctx, Config{
		Loader:  reader,
		Reader:  reader,
		Index:   idx,
		Backend: be,
		Key:     key,
		Root:    root,
		DestDir: dest,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.MetadataErrs) != 0 {
		t.Fatalf("unexpected metadata errors: %v", res.MetadataErrs)
	}

	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil {
		t.Fatalf("ReadFile a.txt: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("a.txt content = %q", got)
	}
	got, err = os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	if err != nil {
		t.Fatalf("ReadFile sub/b.txt: %v", err)
	}
	if string(got) != nested {
		t.Fatalf("sub/b.txt content = %q", got)
	}
}

func TestRestoreSecondPassVerifiesExistingContent(t *testing.T) {
	be := backend.NewMem()
	key, err := crypto.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}

	src := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("stable content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	os.Chtimes(filepath.Join(src, "a.txt"), now, now)

	root := backupFixture(t, be, key, src)
	idx := loadIndex(t, be)
	reader := index.NewReader(be, key, idx)
	dest := filepath.Join(t.TempDir(), "restored")
	ctx := context.Background()

	if _, err := Run(ctx, Config{Loader: reader, Reader: reader, Index: idx, Backend: be, Key: key, Root: root, DestDir: dest}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Touch the mtime without changing content; a plain size+mtime
	// comparison would treat this as changed, but VerifyExisting should
	// recognize the bytes already match and leave the file untouched.
	later := now.Add(time.Hour)
	os.Chtimes(filepath.Join(dest, "a.txt"), later, later)

	plan, err := Build(ctx, reader, reader, idx, root, dest, Options{VerifyExisting: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, e := range plan.Entries {
		if e.Path == "a.txt" && e.Action != ActionExisting {
			t.Fatalf("a.txt action = %v, want ActionExisting", e.Action)
		}
	}
}
