// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vaultpack/vaultpack/tree"
)

// ApplyMetadata runs spec §4.8's metadata pass: permission and
// timestamp application (ownership and extended attributes are not
// applied), deferred until every directory's children
// are in place so that a directory's own mtime isn't disturbed by
// writes into it. Directories are processed deepest-first (the reverse
// of the order they were created in); individual failures are
// collected rather than aborting the pass, since one file's missing
// permission bit shouldn't block the rest of the restore.
func ApplyMetadata(destRoot string, plan *Plan) []error {
	var errs []error

	apply := func(path string, meta tree.Metadata) {
		mode := os.FileMode(tree.PortableMode(meta.Mode)).Perm()
		if err := os.Chmod(path, mode); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("restore: chmod %s: %w", path, err))
		}
		if !meta.MTime.IsZero() {
			atime := meta.ATime
			if atime.IsZero() {
				atime = meta.MTime
			}
			if err := os.Chtimes(path, atime, meta.MTime); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("restore: chtimes %s: %w", path, err))
			}
		}
	}

	for _, e := range plan.Entries {
		if e.Action == ActionSkipOther {
			continue
		}
		path := filepath.Join(destRoot, filepath.FromSlash(e.Path))
		if e.Action == ActionCreateDir {
			continue // directories are applied below, deepest-first
		}
		apply(path, e.Node.Metadata)
	}

	// Directories last, in reverse creation order (children before
	// parents), so a child's chtimes doesn't bump its parent's mtime
	// back up after the parent was already finalized.
	for i := len(plan.Dirs) - 1; i >= 0; i-- {
		rel := plan.Dirs[i]
		path := filepath.Join(destRoot, filepath.FromSlash(rel))
		var meta tree.Metadata
		for _, e := range plan.Entries {
			if e.Path == rel && e.Action == ActionCreateDir {
				meta = e.Node.Metadata
				break
			}
		}
		apply(path, meta)
	}

	return errs
}
