// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"context"
	"fmt"
	"sync"

	vaultpack "github.com/vaultpack/vaultpack"
)

type streamJob struct {
	index int
	id    vaultpack.ID
}

type streamResult struct {
	tree *Tree
	err  error
}

// TreeStreamerOnce loads every tree reachable from roots, visiting each
// distinct tree Id at most once, using up to workers goroutines loading
// trees concurrently (spec §4.6). Despite the concurrent loads, yield
// is invoked in the order trees were first enqueued: the roots, then
// each loaded tree's subtrees in node order, appended when that tree
// finishes loading. With one worker this is breadth-first order; with
// more, the relative order of subtrees of different parents depends on
// which load finishes first.
func TreeStreamerOnce(ctx context.Context, loader Loader, roots []vaultpack.ID, workers int, yield func(vaultpack.ID, *Tree) error) error {
	if workers <= 0 {
		workers = 8
	}

	var mu sync.Mutex
	cond := sync.NewCond(&mu)

	visited := vaultpack.NewIDSet()
	idByIndex := make(map[int]vaultpack.ID)
	queue := make([]streamJob, 0, len(roots))
	results := make(map[int]streamResult)

	nextIndex := 0
	nextDeliver := 0
	inFlight := 0
	delivering := false
	var firstErr error

	enqueue := func(id vaultpack.ID) {
		mu.Lock()
		defer mu.Unlock()
		if visited.Has(id) {
			return
		}
		visited.Insert(id)
		idByIndex[nextIndex] = id
		queue = append(queue, streamJob{index: nextIndex, id: id})
		nextIndex++
		cond.Signal()
	}

	recordErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cond.Broadcast()
	}

	deliverPending := func() {
		for {
			mu.Lock()
			if delivering {
				mu.Unlock()
				return
			}
			r, ok := results[nextDeliver]
			if !ok {
				mu.Unlock()
				return
			}
			id := idByIndex[nextDeliver]
			delete(results, nextDeliver)
			delete(idByIndex, nextDeliver)
			nextDeliver++
			delivering = true
			mu.Unlock()

			err := yield(id, r.tree)

			mu.Lock()
			delivering = false
			mu.Unlock()

			if err != nil {
				recordErr(err)
				return
			}
		}
	}

	for _, r := range roots {
		enqueue(r)
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for {
		mu.Lock()
		for len(queue) == 0 && inFlight > 0 && firstErr == nil {
			cond.Wait()
		}
		stop := firstErr != nil || (len(queue) == 0 && inFlight == 0)
		if stop {
			mu.Unlock()
			break
		}
		j := queue[0]
		queue = queue[1:]
		inFlight++
		mu.Unlock()

		sem <- struct{}{}
		wg.Add(1)
		go func(j streamJob) {
			defer wg.Done()
			defer func() { <-sem }()

			if ctx.Err() != nil {
				recordErr(ctx.Err())
				mu.Lock()
				inFlight--
				mu.Unlock()
				cond.Broadcast()
				return
			}

			t, err := loader.LoadTree(ctx, j.id)

			mu.Lock()
			results[j.index] = streamResult{tree: t, err: err}
			mu.Unlock()

			if err != nil {
				recordErr(fmt.Errorf("tree: load %s: %w", j.id.Short(), err))
			} else {
				for _, n := range t.Nodes {
					if n.IsDir() && n.Subtree != nil {
						enqueue(*n.Subtree)
					}
				}
			}
			// Children are enqueued before inFlight drops, so the
			// dispatch loop never sees an empty queue with no loads in
			// flight while subtrees are still to be queued.
			mu.Lock()
			inFlight--
			mu.Unlock()
			cond.Broadcast()
			if err != nil {
				return
			}
			deliverPending()
		}(j)
	}
	wg.Wait()
	deliverPending()

	return firstErr
}
