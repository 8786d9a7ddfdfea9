// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"

	"github.com/vaultpack/vaultpack/internal/vlog"
)

// manifestEntry records one object the cache holds on local disk. Size
// and Fingerprint let Cache detect a cache directory that was tampered
// with or truncated out-of-band, without making the fingerprint part
// of any wire format: this is local bookkeeping only, never compared
// against a repository's content-addressed Ids.
type manifestEntry struct {
	Size        int64  `msgpack:"size"`
	Fingerprint []byte `msgpack:"fp"`
}

// manifest is a msgpack-encoded side file (manifest.msgpack) recording
// what Cache believes is on disk, keyed by "<kind>/<hex id>". Using a
// single manifest instead of re-deriving state from directory listings
// keeps cold-start cheap for large caches.
type manifest struct {
	Entries map[string]manifestEntry `msgpack:"entries"`
}

// Cache is a read-through caching decorator over a Backend: reads of
// cacheable kinds are served from a local directory when present and
// populated on miss; writes and removes of cacheable kinds are mirrored
// to the cache so it never serves stale data. Pack objects are never
// cached, whatever the cacheable flag says; their reads, writes and
// removes pass straight through.
type Cache struct {
	upstream Backend
	dir      string
	log      *vlog.Logger

	mu   sync.Mutex
	man  manifest
	path string
}

// NewCache wraps upstream with a local cache rooted at dir.
func NewCache(upstream Backend, dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("backend: cache mkdir: %w", err)
	}
	c := &Cache{
		upstream: upstream,
		dir:      dir,
		log:      vlog.Named("backend.cache"),
		man:      manifest{Entries: make(map[string]manifestEntry)},
		path:     filepath.Join(dir, "manifest.msgpack"),
	}
	if err := c.loadManifest(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) loadManifest() error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("backend: cache manifest read: %w", err)
	}
	var m manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		c.log.Warn("discarding corrupt cache manifest", "error", err)
		return nil
	}
	if m.Entries == nil {
		m.Entries = make(map[string]manifestEntry)
	}
	c.man = m
	return nil
}

func (c *Cache) saveManifestLocked() error {
	data, err := msgpack.Marshal(c.man)
	if err != nil {
		return fmt.Errorf("backend: cache manifest encode: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("backend: cache manifest write: %w", err)
	}
	return os.Rename(tmp, c.path)
}

func cacheKey(kind FileKind, id [32]byte) string {
	return kind.String() + "/" + idHex(id)
}

func (c *Cache) localPath(kind FileKind, id [32]byte) string {
	return filepath.Join(c.dir, kind.String()+"-"+idHex(id))
}

func fingerprint(data []byte) []byte {
	sum := blake3.Sum256(data)
	return sum[:]
}

// readLocal returns the cached bytes for (kind, id) if present and
// their fingerprint still matches the manifest; (nil, false) otherwise.
func (c *Cache) readLocal(kind FileKind, id [32]byte) ([]byte, bool) {
	c.mu.Lock()
	entry, ok := c.man.Entries[cacheKey(kind, id)]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(c.localPath(kind, id))
	if err != nil {
		return nil, false
	}
	if int64(len(data)) != entry.Size {
		return nil, false
	}
	fp := fingerprint(data)
	if len(fp) != len(entry.Fingerprint) {
		return nil, false
	}
	for i := range fp {
		if fp[i] != entry.Fingerprint[i] {
			c.log.Warn("cache integrity mismatch, ignoring cached copy", "kind", kind.String(), "id", idHex(id)[:8])
			return nil, false
		}
	}
	return data, true
}

func (c *Cache) writeLocal(kind FileKind, id [32]byte, data []byte) {
	if err := os.WriteFile(c.localPath(kind, id), data, 0o600); err != nil {
		c.log.Warn("cache populate failed", "error", err)
		return
	}
	c.mu.Lock()
	c.man.Entries[cacheKey(kind, id)] = manifestEntry{Size: int64(len(data)), Fingerprint: fingerprint(data)}
	err := c.saveManifestLocked()
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("cache manifest save failed", "error", err)
	}
}

func (c *Cache) evictLocal(kind FileKind, id [32]byte) {
	os.Remove(c.localPath(kind, id))
	c.mu.Lock()
	delete(c.man.Entries, cacheKey(kind, id))
	err := c.saveManifestLocked()
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("cache manifest save failed", "error", err)
	}
}

// List implements Backend by delegating to upstream; cache state never
// changes the set of objects that exist.
func (c *Cache) List(ctx context.Context, kind FileKind) ([][32]byte, error) {
	return c.upstream.List(ctx, kind)
}

// ListWithSize implements Backend.
func (c *Cache) ListWithSize(ctx context.Context, kind FileKind) ([]IDSize, error) {
	return c.upstream.ListWithSize(ctx, kind)
}

// ReadFull implements Backend, serving cacheable kinds from the local
// cache when possible.
func (c *Cache) ReadFull(ctx context.Context, kind FileKind, id [32]byte) ([]byte, error) {
	if kind.Cacheable() {
		if data, ok := c.readLocal(kind, id); ok {
			return data, nil
		}
	}
	data, err := c.upstream.ReadFull(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if kind.Cacheable() {
		c.writeLocal(kind, id, data)
	}
	return data, nil
}

// ReadPartial implements Backend. Only whole-object cache hits are
// served from disk; a partial miss falls through to upstream without
// populating the cache, since caching ranges would require tracking
// coverage per object.
func (c *Cache) ReadPartial(ctx context.Context, kind FileKind, id [32]byte, cacheable bool, offset, length int64) ([]byte, error) {
	if cacheable && kind.Cacheable() {
		if data, ok := c.readLocal(kind, id); ok {
			end := offset + length
			if end > int64(len(data)) {
				end = int64(len(data))
			}
			if offset <= end {
				return data[offset:end], nil
			}
		}
	}
	return c.upstream.ReadPartial(ctx, kind, id, cacheable, offset, length)
}

// Write implements Backend, mirroring cacheable writes into the cache
// after the upstream write succeeds.
func (c *Cache) Write(ctx context.Context, kind FileKind, id [32]byte, cacheable bool, data []byte) error {
	if err := c.upstream.Write(ctx, kind, id, cacheable, data); err != nil {
		return err
	}
	if cacheable && kind.Cacheable() {
		c.writeLocal(kind, id, data)
	}
	return nil
}

// Remove implements Backend, evicting any cached copy first so a
// failed upstream remove never leaves a stale cache entry masking the
// fact that the object is gone.
func (c *Cache) Remove(ctx context.Context, kind FileKind, id [32]byte, cacheable bool) error {
	if kind.Cacheable() {
		c.evictLocal(kind, id)
	}
	return c.upstream.Remove(ctx, kind, id, cacheable)
}
