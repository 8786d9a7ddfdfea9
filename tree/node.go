// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package tree implements the directory tree data model (spec §4.6):
// nodes, trees, their content-addressed JSON serialization, name
// escaping, the portable permission-mode encoding, and the traversal
// helpers (NodeStreamer, TreeStreamerOnce, merge_trees) consumed by
// the backup, restore, and prune components.
package tree

import (
	"time"

	vaultpack "github.com/vaultpack/vaultpack"
)

// Kind is the tagged-union discriminant for a Node.
type Kind string

const (
	KindFile    Kind = "file"
	KindDir     Kind = "dir"
	KindSymlink Kind = "symlink"
	KindDev     Kind = "dev"
	KindChardev Kind = "chardev"
	KindFifo    Kind = "fifo"
	KindSocket  Kind = "socket"
)

// ExtendedAttribute is one opaque name/value pair carried alongside a
// Node's POSIX metadata (ACLs, SELinux labels, and similar).
type ExtendedAttribute struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// Metadata holds the portable attribute set common to every Node kind.
// Not every field is meaningful for every Kind; unused fields are left
// zero and omitted from the JSON encoding.
type Metadata struct {
	Mode     uint32 `json:"mode"`
	UID      uint32 `json:"uid,omitempty"`
	GID      uint32 `json:"gid,omitempty"`
	User     string `json:"user,omitempty"`
	Group    string `json:"group,omitempty"`
	Size     uint64 `json:"size,omitempty"`
	Links    uint64 `json:"links,omitempty"`
	Inode    uint64 `json:"inode,omitempty"`
	DeviceID uint64 `json:"device_id,omitempty"`

	MTime time.Time `json:"mtime"`
	ATime time.Time `json:"atime"`
	CTime time.Time `json:"ctime"`

	ExtendedAttributes []ExtendedAttribute `json:"extended_attributes,omitempty"`
}

// Node is one directory entry: the escaped name, its Kind, shared
// Metadata, and the kind-specific payload (Content for files, Subtree
// for directories, LinkTarget for symlinks, Device for device nodes).
type Node struct {
	EscapedName string `json:"name"`
	Kind        Kind   `json:"type"`

	Metadata

	Content    []vaultpack.ID `json:"content,omitempty"`
	Subtree    *vaultpack.ID  `json:"subtree,omitempty"`
	LinkTarget string         `json:"linktarget,omitempty"`
	Device     uint64         `json:"device,omitempty"`
}

// NodeName returns the node's unescaped, raw byte-sequence name.
func (n *Node) NodeName() (string, error) {
	return UnescapeName(n.EscapedName)
}

// SetName escapes name and stores it as the node's EscapedName.
func (n *Node) SetName(name string) {
	n.EscapedName = EscapeName(name)
}

// IsDir reports whether n is a directory node.
func (n *Node) IsDir() bool { return n.Kind == KindDir }
