// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package archiver

import "path"

// Option configures an Archiver, mirroring the teacher's fstree.Option
// functional-options pattern (fstree/options.go).
type Option func(*options)

type options struct {
	excludePatterns []string
	excludeFn       func(path string, isDir bool) bool
	ignoreCtime     bool
	ignoreInode     bool
	verifyExisting  bool
}

func defaultOptions() *options {
	return &options{}
}

// WithExclude records glob patterns matched against the path relative
// to the backup root and against its base name. The Archiver's Visitor
// methods do not consult them, so they exclude nothing from a walk;
// LocalSource.Exclude is the filter a walk applies.
func WithExclude(patterns ...string) Option {
	return func(o *options) {
		o.excludePatterns = append(o.excludePatterns, patterns...)
	}
}

// WithExcludeFunc records a custom exclusion predicate (true means
// exclude). Like WithExclude, it is not consulted by the Archiver's
// Visitor methods and excludes nothing from a walk.
func WithExcludeFunc(fn func(path string, isDir bool) bool) Option {
	return func(o *options) { o.excludeFn = fn }
}

// WithIgnoreCtime disables the ctime comparison in the unchanged-file
// check (spec §4.7): a file is considered unchanged when type, size,
// and mtime match, without regard to ctime.
func WithIgnoreCtime() Option {
	return func(o *options) { o.ignoreCtime = true }
}

// WithIgnoreInode disables the inode comparison in the unchanged-file
// check.
func WithIgnoreInode() Option {
	return func(o *options) { o.ignoreInode = true }
}

func (o *options) shouldExclude(relPath string, isDir bool) bool {
	if o.excludeFn != nil && o.excludeFn(relPath, isDir) {
		return true
	}
	for _, pattern := range o.excludePatterns {
		if ok, _ := path.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := path.Match(pattern, path.Base(relPath)); ok {
			return true
		}
	}
	return false
}
