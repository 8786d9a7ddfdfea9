// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"

	vaultpack "github.com/vaultpack/vaultpack"
)

// Tree is an ordered list of Nodes, sorted by escaped name, byte-wise.
// Names within a tree must be unique.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// ErrDuplicateName is returned by New when two nodes share a name.
var ErrDuplicateName = errors.New("tree: duplicate node name")

// New builds a Tree from nodes, sorting them by escaped name and
// rejecting duplicates.
func New(nodes []Node) (*Tree, error) {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EscapedName < sorted[j].EscapedName })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].EscapedName == sorted[i-1].EscapedName {
			return nil, ErrDuplicateName
		}
	}
	return &Tree{Nodes: sorted}, nil
}

// Serialize returns the canonical JSON encoding of t: compact JSON
// plus a trailing newline. Serialization is stable across runs given
// the same node set, since nodes are always stored name-sorted.
func (t *Tree) Serialize() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ID returns the content Id of t's serialized form.
func (t *Tree) ID() (vaultpack.ID, error) {
	data, err := t.Serialize()
	if err != nil {
		return vaultpack.ID{}, err
	}
	return vaultpack.Hash(data), nil
}

// Parse decodes a serialized Tree. The trailing newline, if present,
// is tolerated but not required.
func Parse(data []byte) (*Tree, error) {
	data = bytes.TrimSuffix(data, []byte("\n"))
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Find returns the node with the given escaped name, if present.
func (t *Tree) Find(escapedName string) (*Node, bool) {
	i := sort.Search(len(t.Nodes), func(i int) bool { return t.Nodes[i].EscapedName >= escapedName })
	if i < len(t.Nodes) && t.Nodes[i].EscapedName == escapedName {
		return &t.Nodes[i], true
	}
	return nil, false
}
