// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package pack

import (
	"encoding/binary"
	"fmt"

	"github.com/vaultpack/vaultpack/crypto"
)

// BlobContent is one encrypted blob destined for a pack, alongside the
// header entry metadata describing it.
type BlobContent struct {
	Entry      Entry
	Ciphertext []byte
}

// Build assembles a complete pack file from its blobs, in the order
// given: concat(blob ciphertexts) || encrypt(concat(entries)) ||
// u32_le(len(encrypted entries)). The blobs' Entry.Length fields must
// already match len(Ciphertext).
func Build(key crypto.Key, blobs []BlobContent) ([]byte, error) {
	entries := make([]Entry, len(blobs))
	var bodySize int
	for i, b := range blobs {
		if int(b.Entry.Length) != len(b.Ciphertext) {
			return nil, fmt.Errorf("pack: entry length %d does not match ciphertext length %d", b.Entry.Length, len(b.Ciphertext))
		}
		entries[i] = b.Entry
		bodySize += len(b.Ciphertext)
	}

	header := Encode(entries)
	encHeader, err := crypto.Encrypt(key, header)
	if err != nil {
		return nil, fmt.Errorf("pack: encrypt header: %w", err)
	}

	out := make([]byte, 0, bodySize+len(encHeader)+LengthFieldSize)
	for _, b := range blobs {
		out = append(out, b.Ciphertext...)
	}
	out = append(out, encHeader...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(encHeader)))
	out = append(out, lenBuf[:]...)
	return out, nil
}

// HeaderLength returns the number of bytes Build adds after the blob
// ciphertexts for a header containing the given entries: the encrypted
// header plus the trailing length field.
func HeaderLength(key crypto.Key, entries []Entry) int {
	return crypto.CiphertextLength(len(Encode(entries))) + LengthFieldSize
}

// sizeReader is the minimal byte-range-read capability ReadHeader
// needs; backend.Backend.ReadPartial satisfies it once the caller
// binds kind and id.
type sizeReader func(offset, length int64) ([]byte, error)

// ReadHeader recovers a pack's header entries given the pack's total
// size, a read function over its bytes, and an optional size hint (the
// caller's best guess at the encrypted header's length, or 0 if
// unknown). It performs at most two partial reads: one guessing
// hint+4 bytes from the tail, and — only if the hint undershot — one
// more for the exact span.
//
// Fails with ErrMalformedHeader if: the decoded header length exceeds
// packSize-4; the decrypted entry stream cannot be fully parsed; or
// the sum of header ciphertext length, the length field, and blob
// lengths does not equal packSize.
func ReadHeader(key crypto.Key, packSize int64, hint int64, read sizeReader) ([]Entry, error) {
	if packSize < LengthFieldSize {
		return nil, fmt.Errorf("%w: pack too small", ErrMalformedHeader)
	}

	guess := hint + LengthFieldSize
	if guess <= 0 || guess > packSize {
		guess = packSize
	}

	tail, err := read(packSize-guess, guess)
	if err != nil {
		return nil, fmt.Errorf("pack: read tail: %w", err)
	}
	if int64(len(tail)) != guess {
		return nil, fmt.Errorf("%w: short tail read", ErrMalformedHeader)
	}

	lenBuf := tail[len(tail)-LengthFieldSize:]
	headerLen := int64(binary.LittleEndian.Uint32(lenBuf))
	if headerLen > packSize-LengthFieldSize {
		return nil, fmt.Errorf("%w: header length %d exceeds pack size", ErrMalformedHeader, headerLen)
	}

	var encHeader []byte
	if headerLen <= guess-LengthFieldSize {
		encHeader = tail[int64(len(tail))-LengthFieldSize-headerLen : int64(len(tail))-LengthFieldSize]
	} else {
		encHeader, err = read(packSize-LengthFieldSize-headerLen, headerLen)
		if err != nil {
			return nil, fmt.Errorf("pack: re-read header: %w", err)
		}
		if int64(len(encHeader)) != headerLen {
			return nil, fmt.Errorf("%w: short header re-read", ErrMalformedHeader)
		}
	}

	raw, err := crypto.Decrypt(key, encHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt header: %v", ErrMalformedHeader, err)
	}

	entries, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	var blobTotal int64
	for _, e := range entries {
		blobTotal += int64(e.Length)
	}
	wantSize := headerLen + LengthFieldSize + blobTotal
	if wantSize != packSize {
		return nil, fmt.Errorf("%w: computed pack size %d != actual %d", ErrMalformedHeader, wantSize, packSize)
	}

	return entries, nil
}

// Offsets annotates each entry with its running byte offset into the
// pack's blob region, assigned in header order starting at 0.
func Offsets(entries []Entry) []int64 {
	offsets := make([]int64, len(entries))
	var running int64
	for i, e := range entries {
		offsets[i] = running
		running += int64(e.Length)
	}
	return offsets
}
