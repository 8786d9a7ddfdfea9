// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package archiver

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/vaultpack/vaultpack/pack"
	"github.com/vaultpack/vaultpack/packer"
	"github.com/vaultpack/vaultpack/snapshot"
	"github.com/vaultpack/vaultpack/tree"

	vaultpack "github.com/vaultpack/vaultpack"
)

// frame is one open directory on the archiver's explicit stack (spec
// §4.7): the accumulated child nodes and, when a counterpart directory
// exists in the parent snapshot, the parent's Tree to diff children
// against.
type frame struct {
	relPath       string
	nodes         []tree.Node
	parentTree    *tree.Tree
	hadParent     bool
	parentSubtree *vaultpack.ID
}

// Archiver runs the backup pipeline of spec §4.7: it is driven as a
// Visitor by a Source, diffs files against a parent Tree to skip
// unchanged content, and feeds new content through a Chunker into a
// data Packer and tree Packer.
//
// Grounded on the teacher's fstree.builder (fstree/capture.go): the
// same "accumulate entries, sort via tree.New, serialize, hash"
// sequence, generalized to carry a parent-frame pointer per directory
// and to short-circuit unchanged files instead of always rehashing.
type Archiver struct {
	chunker      Chunker
	treePacker   *packer.Packer
	dataPacker   *packer.Packer
	parentLoader tree.Loader
	checker      packer.IndexChecker
	opts         *options
	now          func() time.Time

	stack   []*frame
	summary snapshot.Summary
}

// New builds an Archiver. parentLoader and checker may be nil for a
// backup with no parent snapshot (every file is new).
func New(chunker Chunker, treePacker, dataPacker *packer.Packer, parentLoader tree.Loader, checker packer.IndexChecker, opts ...Option) *Archiver {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Archiver{
		chunker:      chunker,
		treePacker:   treePacker,
		dataPacker:   dataPacker,
		parentLoader: parentLoader,
		checker:      checker,
		opts:         o,
		now:          time.Now,
	}
}

// Run walks source, diffing against parentRoot's Tree when non-nil,
// and returns the Id of the resulting root Tree. It does not finalize
// the tree/data Packers or write a Snapshot — see Backup for the full
// pipeline including finalization.
func (a *Archiver) Run(ctx context.Context, source Source, parentRoot *vaultpack.ID) (vaultpack.ID, error) {
	var parentTree *tree.Tree
	if parentRoot != nil && a.parentLoader != nil {
		t, err := a.parentLoader.LoadTree(ctx, *parentRoot)
		if err != nil {
			return vaultpack.ID{}, fmt.Errorf("archiver: load parent root: %w", err)
		}
		parentTree = t
	}

	a.stack = []*frame{{parentTree: parentTree, hadParent: parentTree != nil}}
	a.summary.BackupStart = a.now()

	if err := source.Walk(ctx, a); err != nil {
		return vaultpack.ID{}, err
	}
	if len(a.stack) != 1 {
		return vaultpack.ID{}, fmt.Errorf("archiver: unbalanced directory frames (%d open)", len(a.stack))
	}
	return a.finishFrame(ctx, a.stack[0])
}

// Summary returns the counters accumulated by the most recent Run.
// Callers finalize it (backup_end/backup_duration) after the Packers
// and Indexer have been finalized, matching spec §4.7's ordering.
func (a *Archiver) Summary() snapshot.Summary { return a.summary }

func (a *Archiver) top() *frame { return a.stack[len(a.stack)-1] }

// Dir implements Visitor: spec §4.7's "push an empty tree frame".
func (a *Archiver) Dir(ctx context.Context, relPath string, meta tree.Metadata) error {
	cur := a.top()
	name := path.Base(relPath)

	f := &frame{relPath: relPath}
	if cur.parentTree != nil {
		if sib, ok := cur.parentTree.Find(tree.EscapeName(name)); ok && sib.IsDir() {
			f.hadParent = true
			f.parentSubtree = sib.Subtree
			if sib.Subtree != nil && a.parentLoader != nil {
				if t, err := a.parentLoader.LoadTree(ctx, *sib.Subtree); err == nil {
					f.parentTree = t
				}
			}
		}
	}
	a.stack = append(a.stack, f)
	return nil
}

// EndDir implements Visitor: spec §4.7's "on popping a directory
// frame" — serialize, hash, add to the tree Packer, and push the
// resulting node into the enclosing frame.
func (a *Archiver) EndDir(ctx context.Context, relPath string) error {
	f := a.stack[len(a.stack)-1]
	a.stack = a.stack[:len(a.stack)-1]

	id, err := a.finishFrame(ctx, f)
	if err != nil {
		return err
	}

	switch {
	case !f.hadParent:
		a.summary.DirsNew++
	case f.parentSubtree != nil && *f.parentSubtree == id:
		a.summary.DirsUnmodified++
	default:
		a.summary.DirsChanged++
	}
	a.summary.TotalDirsProcessed++

	node := tree.Node{Kind: tree.KindDir, Subtree: &id}
	node.SetName(path.Base(relPath))
	cur := a.top()
	cur.nodes = append(cur.nodes, node)
	return nil
}

// File implements Visitor: the unchanged-file short-circuit and
// chunk-and-pack path of spec §4.7.
func (a *Archiver) File(ctx context.Context, relPath string, meta tree.Metadata, open func() (io.ReadCloser, error)) error {
	cur := a.top()
	name := path.Base(relPath)

	a.summary.TotalFilesProcessed++
	a.summary.TotalBytesProcessed += meta.Size

	sib, hadParent := a.parentSibling(cur, name)

	if hadParent && a.unchanged(sib, meta) {
		node := *sib
		node.EscapedName = tree.EscapeName(name)
		cur.nodes = append(cur.nodes, node)
		a.summary.FilesUnmodified++
		return nil
	}

	rc, err := open()
	if err != nil {
		return fmt.Errorf("archiver: open %s: %w", relPath, err)
	}
	defer rc.Close()

	var content []vaultpack.ID
	err = a.chunker(ctx, rc, func(chunk []byte) error {
		id := vaultpack.Hash(chunk)
		if err := a.dataPacker.Add(ctx, chunk, id); err != nil {
			return fmt.Errorf("archiver: add data blob: %w", err)
		}
		content = append(content, id)
		a.summary.DataBlobs++
		a.summary.DataAddedFiles += uint64(len(chunk))
		return nil
	})
	if err != nil {
		return fmt.Errorf("archiver: chunk %s: %w", relPath, err)
	}

	node := tree.Node{Kind: tree.KindFile, Metadata: meta, Content: content}
	node.SetName(name)
	cur.nodes = append(cur.nodes, node)

	if hadParent {
		a.summary.FilesChanged++
	} else {
		a.summary.FilesNew++
	}
	return nil
}

// Symlink implements Visitor.
func (a *Archiver) Symlink(ctx context.Context, relPath string, meta tree.Metadata, target string) error {
	cur := a.top()
	node := tree.Node{Kind: tree.KindSymlink, Metadata: meta, LinkTarget: target}
	node.SetName(path.Base(relPath))
	cur.nodes = append(cur.nodes, node)
	return nil
}

// Other implements Visitor, for device/fifo/socket nodes the Source
// has already fully described.
func (a *Archiver) Other(ctx context.Context, relPath string, node tree.Node) error {
	cur := a.top()
	cur.nodes = append(cur.nodes, node)
	return nil
}

func (a *Archiver) parentSibling(f *frame, name string) (*tree.Node, bool) {
	if f.parentTree == nil {
		return nil, false
	}
	n, ok := f.parentTree.Find(tree.EscapeName(name))
	return n, ok
}

// unchanged implements spec §4.7's unchanged-file test: matching type,
// size, and mtime (plus ctime/inode unless ignored), and every
// referenced data blob still present in the index.
func (a *Archiver) unchanged(sib *tree.Node, meta tree.Metadata) bool {
	if sib.Kind != tree.KindFile {
		return false
	}
	if sib.Size != meta.Size || !sib.MTime.Equal(meta.MTime) {
		return false
	}
	if !a.opts.ignoreCtime && !sib.CTime.IsZero() && !meta.CTime.IsZero() && !sib.CTime.Equal(meta.CTime) {
		return false
	}
	if !a.opts.ignoreInode && sib.Inode != 0 && meta.Inode != 0 && sib.Inode != meta.Inode {
		return false
	}
	if a.checker == nil {
		return len(sib.Content) == 0
	}
	for _, id := range sib.Content {
		if !a.checker.Has(pack.Data, id) {
			return false
		}
	}
	return true
}

func (a *Archiver) finishFrame(ctx context.Context, f *frame) (vaultpack.ID, error) {
	t, err := tree.New(f.nodes)
	if err != nil {
		return vaultpack.ID{}, fmt.Errorf("archiver: build tree %q: %w", f.relPath, err)
	}
	data, err := t.Serialize()
	if err != nil {
		return vaultpack.ID{}, fmt.Errorf("archiver: serialize tree %q: %w", f.relPath, err)
	}
	id := vaultpack.Hash(data)
	if err := a.treePacker.Add(ctx, data, id); err != nil {
		return vaultpack.ID{}, fmt.Errorf("archiver: add tree blob %q: %w", f.relPath, err)
	}
	a.summary.TreeBlobs++
	a.summary.DataAddedTrees += uint64(len(data))
	return id, nil
}
