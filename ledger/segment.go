// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"encoding/binary"

	"github.com/luxfi/ids"

	"github.com/luxfi/pegvm/source"
	"github.com/luxfi/pegvm/utils/hashing"
)

// Segment is a traceable slice of an account's balance. A segment is created
// by one mint event or inherited from a sender's segment during a transfer,
// and is destroyed only by being fully consumed in an outgoing transfer.
//
// Seq is the segment's index in the global issuance arena: every created
// segment draws a fresh value from the same monotonic counter that feeds the
// mint digest, so segment order within an account is creation order.
type Segment struct {
	Seq        uint64         `serialize:"true" json:"seq"`
	Amount     uint64         `serialize:"true" json:"amount"`
	Source     source.Channel `serialize:"true" json:"source"`
	OriginHash ids.ID         `serialize:"true" json:"originHash"`
	// Parent is the Seq of the segment this one descends from, or 0 for a
	// segment created directly by a mint.
	Parent uint64 `serialize:"true" json:"parent"`
	Valid  bool   `serialize:"true" json:"valid"`
}

// child returns the successor segment created when [amount] units are moved
// out of s. Validity and origin lineage are inherited unchanged; invalidity
// is contagious and is never cured by movement.
func (s *Segment) child(seq, amount uint64) *Segment {
	return &Segment{
		Seq:        seq,
		Amount:     amount,
		Source:     s.Source,
		OriginHash: s.OriginHash,
		Parent:     s.Seq,
		Valid:      s.Valid,
	}
}

// MintDigest returns the canonical digest of a mint's parameters. The
// monotonic sequence number is part of the preimage, so two mints with
// identical recipient, amount and channel still produce distinct digests
// and a captured authority signature cannot be replayed.
func MintDigest(to ids.ShortID, amount uint64, c source.Channel, seq uint64) []byte {
	preimage := make([]byte, 0, len(to)+8+1+8)
	preimage = append(preimage, to.Bytes()...)
	preimage = binary.BigEndian.AppendUint64(preimage, amount)
	preimage = append(preimage, byte(c))
	preimage = binary.BigEndian.AppendUint64(preimage, seq)
	return hashing.ComputeHash256(preimage)
}

// mintOriginHash is the digest stored on the minted segment. It is the same
// hash the authority signs, widened to an ID.
func mintOriginHash(to ids.ShortID, amount uint64, c source.Channel, seq uint64) ids.ID {
	var id ids.ID
	copy(id[:], MintDigest(to, amount, c, seq))
	return id
}
