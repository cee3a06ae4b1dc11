// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hashing wraps the cryptographic hash primitives used by the
// ledger so callers never touch the underlying library directly.
package hashing

import (
	"github.com/luxfi/crypto/hash"
	"github.com/luxfi/ids"
)

// HashLen is the number of bytes in a sha256 digest.
const HashLen = 32

// ComputeHash256 returns the sha256 digest of buf.
func ComputeHash256(buf []byte) []byte {
	return hash.ComputeHash256(buf)
}

// ComputeHash256Array returns the sha256 digest of buf as a fixed-size ID.
func ComputeHash256Array(buf []byte) ids.ID {
	var id ids.ID
	copy(id[:], hash.ComputeHash256(buf))
	return id
}
