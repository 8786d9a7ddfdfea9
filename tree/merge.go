// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"context"
	"fmt"
	"sort"

	vaultpack "github.com/vaultpack/vaultpack"
)

// Comparator picks which of two nodes sharing a name should survive a
// merge. It must be a total order: given candidates a and b it returns
// the one to keep.
type Comparator func(a, b *Node) *Node

// Saver persists a freshly merged Tree and returns its content Id,
// typically by serializing it and handing the bytes to a tree Packer.
type Saver func(ctx context.Context, t *Tree) (vaultpack.ID, error)

// Stats accumulates counters over a merge_trees run.
type Stats struct {
	NodesKept     int
	NodesConflict int
	DirsMerged    int
}

// MergeTrees merges the trees named by roots by node name, using cmp
// to resolve name collisions, recursing into directories whose merged
// winner is itself a directory (spec §4.6's merge_trees). It returns
// the Id of the merged root tree.
func MergeTrees(ctx context.Context, loader Loader, save Saver, roots []vaultpack.ID, cmp Comparator, stats *Stats) (vaultpack.ID, error) {
	if len(roots) == 0 {
		return vaultpack.ID{}, fmt.Errorf("tree: merge requires at least one root")
	}
	if len(roots) == 1 {
		return roots[0], nil
	}

	trees := make([]*Tree, len(roots))
	for i, r := range roots {
		t, err := loader.LoadTree(ctx, r)
		if err != nil {
			return vaultpack.ID{}, fmt.Errorf("tree: load %s: %w", r.Short(), err)
		}
		trees[i] = t
	}

	byName := make(map[string][]*Node)
	var order []string
	for _, t := range trees {
		for i := range t.Nodes {
			n := &t.Nodes[i]
			if _, seen := byName[n.EscapedName]; !seen {
				order = append(order, n.EscapedName)
			}
			byName[n.EscapedName] = append(byName[n.EscapedName], n)
		}
	}
	sort.Strings(order)

	merged := make([]Node, 0, len(order))
	for _, name := range order {
		candidates := byName[name]
		winner := candidates[0]
		if len(candidates) > 1 {
			stats.NodesConflict++
			for _, c := range candidates[1:] {
				winner = cmp(winner, c)
			}
		} else {
			stats.NodesKept++
		}

		out := *winner
		if out.IsDir() && len(candidates) > 1 {
			var subRoots []vaultpack.ID
			for _, c := range candidates {
				if c.IsDir() && c.Subtree != nil {
					subRoots = append(subRoots, *c.Subtree)
				}
			}
			if len(subRoots) > 1 {
				mergedSub, err := MergeTrees(ctx, loader, save, subRoots, cmp, stats)
				if err != nil {
					return vaultpack.ID{}, err
				}
				out.Subtree = &mergedSub
				stats.DirsMerged++
			}
		}
		merged = append(merged, out)
	}

	t, err := New(merged)
	if err != nil {
		return vaultpack.ID{}, fmt.Errorf("tree: build merged tree: %w", err)
	}
	return save(ctx, t)
}
