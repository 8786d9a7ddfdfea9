// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package archiver

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/vaultpack/vaultpack/tree"
)

// LocalSource is a Source that walks a real filesystem directory,
// grounded on the teacher's fstree.builder.buildTree recursion
// (fstree/capture.go): sorted directory entries, symlink targets read
// via os.Readlink, regular files opened lazily. Unlike the teacher, it
// never rehashes content itself — it only describes entries; hashing
// and deduplication are the Archiver's job.
type LocalSource struct {
	Root    string
	Exclude func(relPath string, isDir bool) bool
}

// Walk implements Source.
func (s *LocalSource) Walk(ctx context.Context, visit Visitor) error {
	return s.walkDir(ctx, s.Root, "", visit)
}

func (s *LocalSource) walkDir(ctx context.Context, absPath, relPath string, visit Visitor) error {
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return fmt.Errorf("archiver: read dir %s: %w", relPath, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, de := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := de.Name()
		childRel := path.Join(relPath, name)
		childAbs := absPath + string(os.PathSeparator) + name

		if s.Exclude != nil && s.Exclude(childRel, de.IsDir()) {
			continue
		}

		info, err := os.Lstat(childAbs)
		if err != nil {
			continue
		}
		meta := metadataFromInfo(info)

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(childAbs)
			if err != nil {
				return fmt.Errorf("archiver: readlink %s: %w", childRel, err)
			}
			if err := visit.Symlink(ctx, childRel, meta, target); err != nil {
				return err
			}
		case info.IsDir():
			if err := visit.Dir(ctx, childRel, meta); err != nil {
				return err
			}
			if err := s.walkDir(ctx, childAbs, childRel, visit); err != nil {
				return err
			}
			if err := visit.EndDir(ctx, childRel); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			open := func() (io.ReadCloser, error) { return os.Open(childAbs) }
			if err := visit.File(ctx, childRel, meta, open); err != nil {
				return err
			}
		default:
			n := tree.Node{Kind: tree.KindFor(tree.PortableMode(info.Mode())), Metadata: meta}
			n.SetName(name)
			if err := visit.Other(ctx, childRel, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func metadataFromInfo(info fs.FileInfo) tree.Metadata {
	return tree.Metadata{
		Mode:  uint32(info.Mode().Perm()),
		Size:  uint64(info.Size()),
		MTime: info.ModTime(),
	}
}
