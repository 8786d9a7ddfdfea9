// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encOnce sync.Once
	enc     *zstd.Encoder

	decOnce sync.Once
	dec     *zstd.Decoder
)

// encoder lazily builds the process-wide zstd encoder. A single
// encoder is reused across every blob, matching the restic-family
// convention of one long-lived encoder instead of one per call.
func encoder() *zstd.Encoder {
	encOnce.Do(func() {
		e, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithEncoderCRC(false),
			zstd.WithWindowSize(512*1024),
		)
		if err != nil {
			panic(err)
		}
		enc = e
	})
	return enc
}

func decoder() *zstd.Decoder {
	decOnce.Do(func() {
		d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			panic(err)
		}
		dec = d
	})
	return dec
}

// Compress zstd-compresses data, returning the compressed bytes and
// true only when compression actually shrinks the payload. Callers
// should store the plaintext uncompressed when ok is false, since a
// compressed header entry only pays for itself when it saves space
// (spec §4.3's compressed blob variant).
func Compress(data []byte) (out []byte, ok bool) {
	if len(data) == 0 {
		return data, false
	}
	compressed := encoder().EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data, false
	}
	return compressed, true
}

// Decompress reverses Compress, given the plaintext length recorded
// in the pack header entry.
func Decompress(data []byte, uncompressedLength int) ([]byte, error) {
	return decoder().DecodeAll(data, make([]byte, 0, uncompressedLength))
}
