// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/vaultpack/vaultpack/internal/vlog"
)

// Local is the on-disk reference Backend. Objects of kind k are stored
// as individual files under root/<k.String()>/<hex-id>, written via a
// temp-file-then-rename so that Write is atomic: a reader never
// observes a partially written object, matching restic's packer
// temp-file-plus-rename convention (savePacker in the packer manager).
type Local struct {
	root string
	log  *vlog.Logger
}

// NewLocal returns a Local backend rooted at dir, creating the five
// kind subdirectories if they do not already exist.
func NewLocal(dir string) (*Local, error) {
	l := &Local{root: dir, log: vlog.Named("backend.local")}
	for _, k := range []FileKind{KindConfig, KindKey, KindSnapshot, KindIndex, KindPack} {
		if err := os.MkdirAll(l.dirFor(k), 0o700); err != nil {
			return nil, fmt.Errorf("backend: init %s: %w", k, err)
		}
	}
	return l, nil
}

func (l *Local) dirFor(k FileKind) string {
	return filepath.Join(l.root, k.String())
}

func (l *Local) pathFor(k FileKind, id [32]byte) string {
	return filepath.Join(l.dirFor(k), idHex(id))
}

func idHex(id [32]byte) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 64)
	for i, b := range id {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// List implements Backend.
func (l *Local) List(ctx context.Context, kind FileKind) ([][32]byte, error) {
	entries, err := os.ReadDir(l.dirFor(kind))
	if err != nil {
		return nil, fmt.Errorf("backend: list %s: %w", kind, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	ids := make([][32]byte, 0, len(names))
	for _, name := range names {
		id, err := parseHex(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListWithSize implements Backend.
func (l *Local) ListWithSize(ctx context.Context, kind FileKind) ([]IDSize, error) {
	entries, err := os.ReadDir(l.dirFor(kind))
	if err != nil {
		return nil, fmt.Errorf("backend: list %s: %w", kind, err)
	}
	out := make([]IDSize, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := parseHex(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("backend: stat %s/%s: %w", kind, e.Name(), err)
		}
		out = append(out, IDSize{ID: id, Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return idHex(out[i].ID) < idHex(out[j].ID) })
	return out, nil
}

// ReadFull implements Backend.
func (l *Local) ReadFull(ctx context.Context, kind FileKind, id [32]byte) ([]byte, error) {
	data, err := os.ReadFile(l.pathFor(kind, id))
	if os.IsNotExist(err) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("backend: read %s/%s: %w", kind, idHex(id), err)
	}
	return data, nil
}

// ReadPartial implements Backend. cacheable is unused by Local itself;
// it exists so a wrapping cache decorator can consult it.
func (l *Local) ReadPartial(ctx context.Context, kind FileKind, id [32]byte, cacheable bool, offset, length int64) ([]byte, error) {
	f, err := os.Open(l.pathFor(kind, id))
	if os.IsNotExist(err) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("backend: open %s/%s: %w", kind, idHex(id), err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("backend: read %s/%s at %d: %w", kind, idHex(id), offset, err)
	}
	return buf[:n], nil
}

// Write implements Backend: data is written to a temp file in the
// target directory then renamed into place, so a concurrent reader
// either sees the whole object or nothing. If the destination already
// exists, the temp file is removed and ErrAlreadyExists is returned.
func (l *Local) Write(ctx context.Context, kind FileKind, id [32]byte, cacheable bool, data []byte) error {
	dest := l.pathFor(kind, id)
	if _, err := os.Stat(dest); err == nil {
		return ErrAlreadyExists
	}

	dir := l.dirFor(kind)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("backend: create temp in %s: %w", kind, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("backend: write %s/%s: %w", kind, idHex(id), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("backend: sync %s/%s: %w", kind, idHex(id), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backend: close %s/%s: %w", kind, idHex(id), err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("backend: rename %s/%s: %w", kind, idHex(id), err)
	}
	l.log.Debug("wrote object", "kind", kind.String(), "id", idHex(id)[:8], "bytes", len(data))
	return nil
}

// Remove implements Backend.
func (l *Local) Remove(ctx context.Context, kind FileKind, id [32]byte, cacheable bool) error {
	err := os.Remove(l.pathFor(kind, id))
	if os.IsNotExist(err) {
		return ErrNotExist
	}
	if err != nil {
		return fmt.Errorf("backend: remove %s/%s: %w", kind, idHex(id), err)
	}
	return nil
}

func parseHex(s string) ([32]byte, error) {
	var id [32]byte
	if len(s) != 64 {
		return id, fmt.Errorf("backend: invalid object name %q", s)
	}
	for i := 0; i < 32; i++ {
		hi, ok1 := hexVal(s[i*2])
		lo, ok2 := hexVal(s[i*2+1])
		if !ok1 || !ok2 {
			return id, fmt.Errorf("backend: invalid object name %q", s)
		}
		id[i] = hi<<4 | lo
	}
	return id, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}
