// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"context"
	"fmt"
	"path"
	"strings"

	vaultpack "github.com/vaultpack/vaultpack"
)

// Loader fetches and parses the tree stored under id. Implementations
// typically look the Id up in an index, read the owning pack, decrypt,
// and parse the JSON.
type Loader interface {
	LoadTree(ctx context.Context, id vaultpack.ID) (*Tree, error)
}

// PathNode pairs a Node with its full slash-separated path from the
// walk's root.
type PathNode struct {
	Path string
	Node Node
}

// Filter reports whether the entry at path should be visited. A nil
// Filter visits everything.
type Filter func(pathStr string, n *Node) bool

// NodeStreamer walks a subtree depth-first, yielding (path, node)
// pairs in tree order (spec §4.6). A supplied Filter may skip entries
// without halting the walk of siblings.
func NodeStreamer(ctx context.Context, loader Loader, root vaultpack.ID, filter Filter, yield func(PathNode) error) error {
	return streamTree(ctx, loader, root, "", filter, yield)
}

func streamTree(ctx context.Context, loader Loader, id vaultpack.ID, prefix string, filter Filter, yield func(PathNode) error) error {
	t, err := loader.LoadTree(ctx, id)
	if err != nil {
		return fmt.Errorf("tree: load %s: %w", id.Short(), err)
	}

	for _, n := range t.Nodes {
		name, err := n.NodeName()
		if err != nil {
			return fmt.Errorf("tree: unescape name: %w", err)
		}
		p := path.Join(prefix, name)

		if filter != nil && !filter(p, &n) {
			continue
		}

		if err := yield(PathNode{Path: p, Node: n}); err != nil {
			return err
		}

		if n.IsDir() && n.Subtree != nil {
			if err := streamTree(ctx, loader, *n.Subtree, p, filter, yield); err != nil {
				return err
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// GlobFilter builds a Filter from shell-style glob patterns: an entry
// is visited when it matches any of includes (or includes is empty)
// and matches none of excludes.
func GlobFilter(includes, excludes []string) Filter {
	return func(p string, n *Node) bool {
		base := p
		if i := strings.LastIndexByte(p, '/'); i >= 0 {
			base = p[i+1:]
		}
		for _, pat := range excludes {
			if ok, _ := path.Match(pat, base); ok {
				return false
			}
			if ok, _ := path.Match(pat, p); ok {
				return false
			}
		}
		if len(includes) == 0 {
			return true
		}
		for _, pat := range includes {
			if ok, _ := path.Match(pat, base); ok {
				return true
			}
			if ok, _ := path.Match(pat, p); ok {
				return true
			}
		}
		return false
	}
}
