// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the provenance ledger: per-account lists of
// provenance-tagged balance segments, minted under source validation and
// moved under FIFO valid-first consumption.
package ledger

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/pegvm/source"
)

var (
	ErrZeroAmount          = errors.New("amount must be greater than zero")
	ErrSupplyExceeded      = errors.New("mint would exceed total supply")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSelfTransfer        = errors.New("sender and receiver are the same account")
)

// Store is the persisted backing for the ledger. Apply methods must stage
// every write before exposing any of it; the gateway's transaction boundary
// makes the staged writes durable or discards them as a unit.
type Store interface {
	// Segments returns the account's segments ordered oldest-first.
	Segments(addr ids.ShortID) []*Segment
	// Counters returns the minted supply and the next segment sequence.
	Counters() (minted uint64, seq uint64)
	// ApplyMint replaces the recipient's segment list and both counters.
	ApplyMint(to ids.ShortID, segments []*Segment, minted, seq uint64) error
	// ApplyTransfer replaces both parties' segment lists and the sequence
	// counter.
	ApplyTransfer(from ids.ShortID, fromSegments []*Segment, to ids.ShortID, toSegments []*Segment, seq uint64) error
}

// Ledger enforces provenance on every mutation. It performs all checks
// before touching the store, so a returned error always means the ledger is
// exactly as it was before the call.
type Ledger struct {
	store       Store
	validator   *source.Validator
	totalSupply uint64
}

func New(store Store, validator *source.Validator, totalSupply uint64) *Ledger {
	return &Ledger{
		store:       store,
		validator:   validator,
		totalSupply: totalSupply,
	}
}

// TotalSupply returns the hard cap on minted units.
func (l *Ledger) TotalSupply() uint64 {
	return l.totalSupply
}

// MintedSupply returns the number of units minted so far.
func (l *Ledger) MintedSupply() uint64 {
	minted, _ := l.store.Counters()
	return minted
}

// NextMintDigest returns the digest an authority must sign to authorize the
// next mint with these parameters.
func (l *Ledger) NextMintDigest(to ids.ShortID, amount uint64, c source.Channel) []byte {
	_, seq := l.store.Counters()
	return MintDigest(to, amount, c, seq)
}

// Mint validates the issuance source and appends a new valid segment to the
// recipient. It returns the sequence number of the created segment.
func (l *Ledger) Mint(to ids.ShortID, amount uint64, c source.Channel, proof *source.Proof) (uint64, error) {
	if amount == 0 {
		return 0, ErrZeroAmount
	}

	minted, seq := l.store.Counters()
	digest := MintDigest(to, amount, c, seq)
	if err := l.validator.Validate(c, proof, digest); err != nil {
		return 0, err
	}

	newMinted, err := safemath.Add64(minted, amount)
	if err != nil || newMinted > l.totalSupply {
		return 0, fmt.Errorf("%w: %d minted, %d requested, %d cap",
			ErrSupplyExceeded, minted, amount, l.totalSupply)
	}

	seg := &Segment{
		Seq:        seq,
		Amount:     amount,
		Source:     c,
		OriginHash: mintOriginHash(to, amount, c, seq),
		Valid:      true,
	}
	segments := append(l.store.Segments(to), seg)
	if err := l.store.ApplyMint(to, segments, newMinted, seq+1); err != nil {
		return 0, err
	}
	return seg.Seq, nil
}

// ImportAllocation credits an account at genesis without an authority proof.
// The segment is valid only when the declared channel is approved; legacy
// balances imported under an unapproved channel exist on the ledger but are
// economically worthless.
func (l *Ledger) ImportAllocation(to ids.ShortID, amount uint64, c source.Channel) (uint64, error) {
	if amount == 0 {
		return 0, ErrZeroAmount
	}
	minted, seq := l.store.Counters()
	newMinted, err := safemath.Add64(minted, amount)
	if err != nil || newMinted > l.totalSupply {
		return 0, fmt.Errorf("%w: %d minted, %d requested, %d cap",
			ErrSupplyExceeded, minted, amount, l.totalSupply)
	}
	seg := &Segment{
		Seq:        seq,
		Amount:     amount,
		Source:     c,
		OriginHash: mintOriginHash(to, amount, c, seq),
		Valid:      c.Approved(),
	}
	segments := append(l.store.Segments(to), seg)
	if err := l.store.ApplyMint(to, segments, newMinted, seq+1); err != nil {
		return 0, err
	}
	return seg.Seq, nil
}

// Transfer moves [amount] units from one account to another. Valid segments
// are consumed first, oldest first, so the sender keeps the longest-lived
// provenance chain; invalid segments are drawn only once every valid unit is
// spent. Split remainders keep their original sequence and lineage.
func (l *Ledger) Transfer(from, to ids.ShortID, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if from == to {
		return ErrSelfTransfer
	}

	segments := l.store.Segments(from)
	var total uint64
	for _, seg := range segments {
		newTotal, err := safemath.Add64(total, seg.Amount)
		if err != nil {
			return err
		}
		total = newTotal
	}
	if total < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, total, amount)
	}

	_, seq := l.store.Counters()

	// Consumption order: every valid segment oldest-first, then every
	// invalid segment oldest-first.
	order := make([]*Segment, 0, len(segments))
	for _, seg := range segments {
		if seg.Valid {
			order = append(order, seg)
		}
	}
	for _, seg := range segments {
		if !seg.Valid {
			order = append(order, seg)
		}
	}

	remaining := amount
	consumed := make(map[uint64]uint64, len(order)) // seq -> units taken
	moved := make([]*Segment, 0, len(order))
	for _, seg := range order {
		if remaining == 0 {
			break
		}
		take := min(seg.Amount, remaining)
		consumed[seg.Seq] = take
		moved = append(moved, seg.child(seq, take))
		seq++
		remaining -= take
	}

	// Rebuild the sender's list in original order, dropping fully consumed
	// segments and shrinking split ones in place.
	kept := make([]*Segment, 0, len(segments))
	for _, seg := range segments {
		take, ok := consumed[seg.Seq]
		switch {
		case !ok:
			kept = append(kept, seg)
		case take < seg.Amount:
			remainder := *seg
			remainder.Amount = seg.Amount - take
			kept = append(kept, &remainder)
		}
	}

	toSegments := append(l.store.Segments(to), moved...)
	return l.store.ApplyTransfer(from, kept, to, toSegments, seq)
}

// Balance returns the account's total holdings, valid or not.
func (l *Ledger) Balance(addr ids.ShortID) uint64 {
	var total uint64
	for _, seg := range l.store.Segments(addr) {
		total += seg.Amount
	}
	return total
}

// ValidBalance returns the account's holdings with unbroken valid provenance.
func (l *Ledger) ValidBalance(addr ids.ShortID) uint64 {
	var total uint64
	for _, seg := range l.store.Segments(addr) {
		if seg.Valid {
			total += seg.Amount
		}
	}
	return total
}

// Segments returns copies of the account's segments, oldest-first.
func (l *Ledger) Segments(addr ids.ShortID) []Segment {
	stored := l.store.Segments(addr)
	segments := make([]Segment, len(stored))
	for i, seg := range stored {
		segments[i] = *seg
	}
	return segments
}

// VerifyEcosystemEntry reports whether the account holds anything and every
// unit it holds has valid provenance.
func (l *Ledger) VerifyEcosystemEntry(addr ids.ShortID) bool {
	segments := l.store.Segments(addr)
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if !seg.Valid {
			return false
		}
	}
	return true
}

// BatchVerify runs VerifyEcosystemEntry over a list of accounts.
func (l *Ledger) BatchVerify(addrs []ids.ShortID) []bool {
	results := make([]bool, len(addrs))
	for i, addr := range addrs {
		results[i] = l.VerifyEcosystemEntry(addr)
	}
	return results
}
