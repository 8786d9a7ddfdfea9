// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Command vaultpack-fixtures drives one end-to-end backup/restore run
// against a real on-disk repository and writes a JSON summary of what
// happened — sizes, Ids, blob/pack counts — the way the teacher's
// cxdb-fixtures command writes wire-format fixtures for its Rust
// client, generalized here to a smoke test a CI job or a developer can
// run by hand to sanity-check the pipeline end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/archiver"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/crypto"
	"github.com/vaultpack/vaultpack/index"
	"github.com/vaultpack/vaultpack/internal/config"
	"github.com/vaultpack/vaultpack/internal/vlog"
	"github.com/vaultpack/vaultpack/pack"
	"github.com/vaultpack/vaultpack/packer"
	"github.com/vaultpack/vaultpack/restore"
	"github.com/vaultpack/vaultpack/snapshot"
)

var log = vlog.Named("cmd.vaultpack-fixtures")

// summary is the JSON fixture this command writes: a record of one
// backup+restore round trip against a fresh repository.
type summary struct {
	RepositoryPath string `json:"repository_path"`
	SourcePath     string `json:"source_path"`
	RestorePath    string `json:"restore_path"`

	SnapshotID string `json:"snapshot_id"`
	TreeID     string `json:"tree_id"`

	FilesNew      uint64 `json:"files_new"`
	DataAdded     uint64 `json:"data_added_bytes"`
	DataAddedPack uint64 `json:"data_added_packed_bytes"`

	MetadataErrors []string `json:"metadata_errors,omitempty"`
}

func main() {
	srcDir := flag.String("source", "", "directory to back up (required)")
	outPath := flag.String("out", "fixtures/vaultpack-run.json", "path to write the JSON run summary to")
	flag.Parse()

	if *srcDir == "" {
		fmt.Fprintln(os.Stderr, "vaultpack-fixtures: -source is required")
		os.Exit(2)
	}

	if err := run(*srcDir, *outPath); err != nil {
		log.Error("run failed", "error", err)
		fmt.Fprintf(os.Stderr, "vaultpack-fixtures: %v\n", err)
		os.Exit(1)
	}
}

func run(srcDir, outPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	vlog.SetLevel(parseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.RepositoryPath, 0o755); err != nil {
		return fmt.Errorf("create repository dir: %w", err)
	}
	be, err := backend.NewLocal(cfg.RepositoryPath)
	if err != nil {
		return fmt.Errorf("open local backend: %w", err)
	}

	key, err := loadOrCreateKey(cfg)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	ctx := context.Background()
	snap, snapID, root, err := backupOnce(ctx, be, key, cfg, srcDir)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	files, err := index.LoadAll(ctx, be, decryptWith(key))
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	idx := index.Build(index.Full, files)
	reader := index.NewReader(be, key, idx)

	restoreDir, err := os.MkdirTemp("", "vaultpack-restore-")
	if err != nil {
		return fmt.Errorf("mkdir restore dir: %w", err)
	}
	res, err := restore.Run(ctx, restore.Config{
		Loader:  reader,
		Reader:  reader,
		Index:   idx,
		Backend: be,
		Key:     key,
		Root:    root,
		DestDir: restoreDir,
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	s := summary{
		RepositoryPath: cfg.RepositoryPath,
		SourcePath:     srcDir,
		RestorePath:    restoreDir,
		SnapshotID:     snapID.String(),
		TreeID:         root.String(),
		FilesNew:       snap.Summary.FilesNew,
		DataAdded:      snap.Summary.DataAdded,
		DataAddedPack:  snap.Summary.DataAddedPacked,
	}
	for _, e := range res.MetadataErrs {
		s.MetadataErrors = append(s.MetadataErrors, e.Error())
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	log.Info("wrote run summary", "path", outPath, "snapshot", s.SnapshotID)
	return nil
}

// loadOrCreateKey reads the configured key file, wrapped under
// cfg.Passphrase, creating a fresh repository key the first time this
// command runs against an empty repository.
func loadOrCreateKey(cfg config.Config) (crypto.Key, error) {
	if _, err := os.Stat(cfg.KeyFile); err == nil {
		return config.ReadKeyFile(cfg.KeyFile, cfg.Passphrase)
	}
	key, err := crypto.NewKey()
	if err != nil {
		return crypto.Key{}, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.KeyFile), 0o755); err != nil {
		return crypto.Key{}, err
	}
	if err := config.WriteKeyFile(cfg.KeyFile, key, cfg.Passphrase, cfg.ScryptN, cfg.ScryptR, cfg.ScryptP); err != nil {
		return crypto.Key{}, err
	}
	return key, nil
}

func decryptWith(key crypto.Key) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) { return crypto.Decrypt(key, data) }
}

func encryptWith(key crypto.Key) func(*index.File) ([]byte, error) {
	return func(f *index.File) ([]byte, error) {
		data, err := f.Encode()
		if err != nil {
			return nil, err
		}
		return crypto.Encrypt(key, data)
	}
}

// backupOnce runs one backup and returns the resulting snapshot, its
// content-addressed Id (the hash of its encoded, pre-encryption form,
// per spec §4.1 — the Id is never itself part of the hashed bytes),
// and its root tree Id.
func backupOnce(ctx context.Context, be backend.Backend, key crypto.Key, cfg config.Config, srcDir string) (*snapshot.Snapshot, vaultpack.ID, vaultpack.ID, error) {
	existing, err := index.LoadAll(ctx, be, decryptWith(key))
	if err != nil {
		return nil, vaultpack.ID{}, vaultpack.ID{}, fmt.Errorf("load existing index: %w", err)
	}
	checker := index.Build(index.Full, existing)

	ix := index.NewIndexer(be, encryptWith(key))
	sizer := packer.DefaultPackSizer(cfg.PackTargetSize, cfg.PackSizeLimit, cfg.PackHardCap)

	treePacker := packer.New(pack.Tree, be, key, ix, checker, sizer)
	dataPacker := packer.New(pack.Data, be, key, ix, checker, sizer)
	treePacker.Run(ctx)
	dataPacker.Run(ctx)

	backupCfg := archiver.BackupConfig{
		Source:     &archiver.LocalSource{Root: srcDir},
		Chunker:    fixedSizeChunker(1 << 20),
		TreePacker: treePacker,
		DataPacker: dataPacker,
		Indexer:    ix,
		Checker:    checker,
		Paths:      []string{srcDir},
		Command:    "backup",
	}
	snap, err := archiver.Backup(ctx, backupCfg)
	if err != nil {
		return nil, vaultpack.ID{}, vaultpack.ID{}, err
	}

	data, err := snap.Encode()
	if err != nil {
		return nil, vaultpack.ID{}, vaultpack.ID{}, fmt.Errorf("encode snapshot: %w", err)
	}
	id := vaultpack.Hash(data)
	ciphertext, err := crypto.Encrypt(key, data)
	if err != nil {
		return nil, vaultpack.ID{}, vaultpack.ID{}, fmt.Errorf("encrypt snapshot: %w", err)
	}
	if err := be.Write(ctx, backend.KindSnapshot, id, true, ciphertext); err != nil {
		return nil, vaultpack.ID{}, vaultpack.ID{}, fmt.Errorf("write snapshot: %w", err)
	}
	return snap, id, snap.Tree, nil
}

// fixedSizeChunker is a placeholder Chunker (spec §1 excludes the
// content-defined chunker itself from core scope): it simply slices
// the stream into fixed windows, adequate for a smoke test that only
// needs deterministic, reproducible chunk boundaries.
func fixedSizeChunker(size int) archiver.Chunker {
	return func(ctx context.Context, r io.Reader, yield func(chunk []byte) error) error {
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

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
