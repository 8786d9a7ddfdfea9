// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"fmt"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/backend"
	"github.com/vaultpack/vaultpack/crypto"
	"github.com/vaultpack/vaultpack/pack"
	"github.com/vaultpack/vaultpack/tree"
	"github.com/vaultpack/vaultpack/vaulterr"
)

// Reader resolves a blob Id to its plaintext bytes by looking its
// location up in an Index and reading+decrypting the owning pack's
// span from a Backend — the bridge between the location-only Index
// and the bytes the archiver, restore engine, and tree traversal
// actually need.
type Reader struct {
	be  backend.Backend
	key crypto.Key
	idx *Index
}

// NewReader builds a Reader over idx, reading pack data from be.
func NewReader(be backend.Backend, key crypto.Key, idx *Index) *Reader {
	return &Reader{be: be, key: key, idx: idx}
}

// ReadBlob returns the plaintext of the blob id of the given kind.
func (r *Reader) ReadBlob(ctx context.Context, kind pack.BlobType, id vaultpack.ID) ([]byte, error) {
	pb, ok := r.idx.Get(kind, id)
	if !ok {
		return nil, fmt.Errorf("index: blob %s: %w", id.Short(), vaulterr.ErrNotFound)
	}

	raw, err := r.be.ReadPartial(ctx, backend.KindPack, pb.PackID, true, int64(pb.Offset), int64(pb.Length))
	if err != nil {
		return nil, fmt.Errorf("index: read pack %s: %w", pb.PackID.Short(), err)
	}

	plaintext, err := crypto.Decrypt(r.key, raw)
	if err != nil {
		return nil, fmt.Errorf("index: decrypt blob %s: %w: %v", id.Short(), vaulterr.ErrCrypto, err)
	}

	if pb.UncompressedLength > 0 {
		out, err := pack.Decompress(plaintext, int(pb.UncompressedLength))
		if err != nil {
			return nil, fmt.Errorf("index: decompress blob %s: %w", id.Short(), err)
		}
		return out, nil
	}
	return plaintext, nil
}

// LoadTree implements tree.Loader, reading and parsing the Tree blob
// named by id.
func (r *Reader) LoadTree(ctx context.Context, id vaultpack.ID) (*tree.Tree, error) {
	data, err := r.ReadBlob(ctx, pack.Tree, id)
	if err != nil {
		return nil, err
	}
	return tree.Parse(data)
}
