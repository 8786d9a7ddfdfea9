// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package packer implements the concurrent pack-building pipeline
// (spec §4.5): blobs flow in through Add, are deduplicated against the
// index, compressed and encrypted, and accumulated into pack buffers
// that are flushed to the backend once they reach a target size, blob
// count, or age.
package packer

import "math"

// PackSizer computes the target size for packs of one BlobKind, given
// a current estimate of total repository size (spec §4.5). The target
// grows slowly with repository size so that very large repositories
// don't pay per-pack overhead on millions of tiny packs, while small
// repositories keep packs close to DefaultSize.
type PackSizer struct {
	DefaultSize int64
	GrowFactor  float64
	SizeLimit   int64
	HardCap     int64

	// MinPercent and MaxPercent bound the acceptable actual/target
	// ratio, expressed as percentages (MinPercent typically 30,
	// MaxPercent 0 meaning unbounded).
	MinPercent int
	MaxPercent int
}

// DefaultPackSizer returns the sizing policy restic-compatible repos
// use for a kind with the given default size and size limit.
func DefaultPackSizer(defaultSize, sizeLimit, hardCap int64) PackSizer {
	return PackSizer{
		DefaultSize: defaultSize,
		GrowFactor:  1,
		SizeLimit:   sizeLimit,
		HardCap:     hardCap,
		MinPercent:  30,
		MaxPercent:  0,
	}
}

// Target returns the target pack size given the current repository
// size estimate in bytes.
func (p PackSizer) Target(currentSizeBytes int64) int64 {
	if currentSizeBytes < 0 {
		currentSizeBytes = 0
	}
	grown := p.DefaultSize + int64(p.GrowFactor*math.Floor(math.Sqrt(float64(currentSizeBytes))))

	target := grown
	if p.SizeLimit > 0 && p.SizeLimit < target {
		target = p.SizeLimit
	}
	if p.HardCap > 0 && p.HardCap < target {
		target = p.HardCap
	}
	return target
}

// Acceptable reports whether actualSize is within the configured
// min/max percentage band of target.
func (p PackSizer) Acceptable(actualSize, target int64) bool {
	if target <= 0 {
		return true
	}
	lowOK := int64(p.MinPercent)*target <= actualSize*100
	if !lowOK {
		return false
	}
	if p.MaxPercent <= 0 {
		return true
	}
	return actualSize*100 <= int64(p.MaxPercent)*target
}
