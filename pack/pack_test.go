// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"bytes"
	"errors"
	"testing"

	vaultpack "github.com/vaultpack/vaultpack"
	"github.com/vaultpack/vaultpack/crypto"
)

func mustKey(t *testing.T) crypto.Key {
	t.Helper()
	k, err := crypto.NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	return k
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	entries := []Entry{
		{Type: Data, ID: vaultpack.Hash([]byte("a")), Length: 10},
		{Type: Tree, ID: vaultpack.Hash([]byte("b")), Length: 20},
		{Type: Data, ID: vaultpack.Hash([]byte("c")), Length: 30, Compressed: true, UncompressedLength: 50},
		{Type: Tree, ID: vaultpack.Hash([]byte("d")), Length: 40, Compressed: true, UncompressedLength: 90},
	}

	raw := Encode(entries)
	wantLen := 37 + 37 + 41 + 41
	if len(raw) != wantLen {
		t.Fatalf("Encode length = %d, want %d", len(raw), wantLen)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("Decode returned %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	raw := []byte{9, 0, 0, 0, 0}
	if _, err := Decode(raw); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("Decode(bad tag) = %v, want ErrMalformedHeader", err)
	}
}

func TestDecodeRejectsTruncatedEntry(t *testing.T) {
	raw := []byte{0, 1, 2, 3}
	if _, err := Decode(raw); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("Decode(truncated) = %v, want ErrMalformedHeader", err)
	}
}

func buildTestPack(t *testing.T, key crypto.Key, plaintexts [][]byte) []byte {
	t.Helper()
	blobs := make([]BlobContent, len(plaintexts))
	for i, p := range plaintexts {
		ct, err := crypto.Encrypt(key, p)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		blobs[i] = BlobContent{
			Entry: Entry{Type: Data, ID: vaultpack.Hash(p), Length: uint32(len(ct))},
			Ciphertext: ct,
		}
	}
	data, err := Build(key, blobs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return data
}

func readerFor(data []byte) sizeReader {
	return func(offset, length int64) ([]byte, error) {
		if offset < 0 {
			offset = 0
		}
		end := offset + length
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		return data[offset:end], nil
	}
}

func TestBuildAndReadHeaderRoundTrip(t *testing.T) {
	key := mustKey(t)
	plaintexts := [][]byte{[]byte("one"), []byte("two"), bytes.Repeat([]byte("x"), 1000)}
	data := buildTestPack(t, key, plaintexts)

	entries, err := ReadHeader(key, int64(len(data)), 0, readerFor(data))
	if err != nil {
		t.Fatalf("ReadHeader(no hint): %v", err)
	}
	if len(entries) != len(plaintexts) {
		t.Fatalf("got %d entries, want %d", len(entries), len(plaintexts))
	}

	offsets := Offsets(entries)
	for i, e := range entries {
		ct := data[offsets[i] : offsets[i]+int64(e.Length)]
		pt, err := crypto.Decrypt(key, ct)
		if err != nil {
			t.Fatalf("Decrypt entry %d: %v", i, err)
		}
		if !bytes.Equal(pt, plaintexts[i]) {
			t.Fatalf("entry %d plaintext = %q, want %q", i, pt, plaintexts[i])
		}
	}
}

func TestReadHeaderWithUndersizedHint(t *testing.T) {
	key := mustKey(t)
	data := buildTestPack(t, key, [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")})

	entries, err := ReadHeader(key, int64(len(data)), 1, readerFor(data))
	if err != nil {
		t.Fatalf("ReadHeader(tiny hint): %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
}

func TestReadHeaderRejectsTruncatedPack(t *testing.T) {
	key := mustKey(t)
	data := buildTestPack(t, key, [][]byte{[]byte("hello")})
	truncated := data[:len(data)-1]

	if _, err := ReadHeader(key, int64(len(truncated)), 0, readerFor(truncated)); err == nil {
		t.Fatalf("ReadHeader(truncated pack): want error, got nil")
	}
}
