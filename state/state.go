// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state persists accounts, proposals and the global issuance
// counters. It is an explicitly passed storage handle: the engines above it
// never touch the database directly, which keeps them testable against an
// in-memory store.
package state

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/utils"

	"github.com/luxfi/pegvm/governance"
	"github.com/luxfi/pegvm/ledger"
)

var (
	ErrCorruptRecord = errors.New("corrupt state record")

	accountPrefix  = []byte("account")
	proposalPrefix = []byte("proposal")
	counterPrefix  = []byte("counter")

	countersKey    = []byte("counters")
	initializedKey = []byte("initialized")
)

// accountRecord is the persisted form of one account's segment list.
type accountRecord struct {
	Segments []*ledger.Segment `serialize:"true"`
}

// proposalRecord is the persisted form of a proposal. Votes are flattened
// into parallel slices sorted by voter so encoding is deterministic.
type proposalRecord struct {
	ID            ids.ID        `serialize:"true"`
	Action        string        `serialize:"true"`
	Eligible      []ids.ShortID `serialize:"true"`
	VoteAddrs     []ids.ShortID `serialize:"true"`
	VoteDecisions []bool        `serialize:"true"`
	Threshold     uint32        `serialize:"true"`
	Status        uint8         `serialize:"true"`
	CreatedAt     int64         `serialize:"true"`
	ExpiresAt     int64         `serialize:"true"`
}

// counterRecord holds the global issuance counters.
type counterRecord struct {
	MintedSupply uint64 `serialize:"true"`
	SegmentSeq   uint64 `serialize:"true"`
}

// State keeps the working copy in memory and writes through to prefixed
// buckets of the database it was handed. When that database is a versiondb,
// writes stay staged until the owner commits or aborts.
type State struct {
	accountDB  database.Database
	proposalDB database.Database
	counterDB  database.Database

	accounts  map[ids.ShortID][]*ledger.Segment
	proposals map[ids.ID]*governance.Proposal

	mintedSupply uint64
	segmentSeq   uint64
}

var (
	_ ledger.Store     = (*State)(nil)
	_ governance.Store = (*State)(nil)
)

func New(db database.Database) *State {
	return &State{
		accountDB:  prefixdb.New(accountPrefix, db),
		proposalDB: prefixdb.New(proposalPrefix, db),
		counterDB:  prefixdb.New(counterPrefix, db),
		accounts:   make(map[ids.ShortID][]*ledger.Segment),
		proposals:  make(map[ids.ID]*governance.Proposal),
	}
}

// Load reads every persisted record into memory.
func (s *State) Load() error {
	counterBytes, err := s.counterDB.Get(countersKey)
	switch {
	case err == nil:
		counters := &counterRecord{}
		if _, err := Codec.Unmarshal(counterBytes, counters); err != nil {
			return fmt.Errorf("%w: counters: %s", ErrCorruptRecord, err)
		}
		s.mintedSupply = counters.MintedSupply
		s.segmentSeq = counters.SegmentSeq
	case errors.Is(err, database.ErrNotFound):
		// Fresh deploy: counters start at zero.
	default:
		return err
	}

	accountIter := s.accountDB.NewIterator()
	defer accountIter.Release()
	for accountIter.Next() {
		addr, err := ids.ToShortID(accountIter.Key())
		if err != nil {
			return fmt.Errorf("%w: account key: %s", ErrCorruptRecord, err)
		}
		record := &accountRecord{}
		if _, err := Codec.Unmarshal(accountIter.Value(), record); err != nil {
			return fmt.Errorf("%w: account %s: %s", ErrCorruptRecord, addr, err)
		}
		s.accounts[addr] = record.Segments
	}
	if err := accountIter.Error(); err != nil {
		return err
	}

	proposalIter := s.proposalDB.NewIterator()
	defer proposalIter.Release()
	for proposalIter.Next() {
		record := &proposalRecord{}
		if _, err := Codec.Unmarshal(proposalIter.Value(), record); err != nil {
			return fmt.Errorf("%w: proposal: %s", ErrCorruptRecord, err)
		}
		p, err := record.proposal()
		if err != nil {
			return err
		}
		s.proposals[p.ID] = p
	}
	return proposalIter.Error()
}

// IsInitialized reports whether genesis allocations were already applied.
func (s *State) IsInitialized() (bool, error) {
	return s.counterDB.Has(initializedKey)
}

// SetInitialized marks genesis as applied.
func (s *State) SetInitialized() error {
	return s.counterDB.Put(initializedKey, []byte{1})
}

// Segments implements ledger.Store.
func (s *State) Segments(addr ids.ShortID) []*ledger.Segment {
	return s.accounts[addr]
}

// Counters implements ledger.Store.
func (s *State) Counters() (uint64, uint64) {
	return s.mintedSupply, s.segmentSeq
}

// ApplyMint implements ledger.Store. All database writes are staged before
// the in-memory copy changes, so a write failure leaves memory untouched.
func (s *State) ApplyMint(to ids.ShortID, segments []*ledger.Segment, minted, seq uint64) error {
	if err := s.putAccount(to, segments); err != nil {
		return err
	}
	if err := s.putCounters(minted, seq); err != nil {
		return err
	}
	s.accounts[to] = segments
	s.mintedSupply = minted
	s.segmentSeq = seq
	return nil
}

// ApplyTransfer implements ledger.Store.
func (s *State) ApplyTransfer(
	from ids.ShortID,
	fromSegments []*ledger.Segment,
	to ids.ShortID,
	toSegments []*ledger.Segment,
	seq uint64,
) error {
	if err := s.putAccount(from, fromSegments); err != nil {
		return err
	}
	if err := s.putAccount(to, toSegments); err != nil {
		return err
	}
	if err := s.putCounters(s.mintedSupply, seq); err != nil {
		return err
	}
	s.accounts[from] = fromSegments
	s.accounts[to] = toSegments
	s.segmentSeq = seq
	return nil
}

// NumAccounts returns the number of accounts that have ever held a segment.
func (s *State) NumAccounts() int {
	return len(s.accounts)
}

// NumProposals returns the number of proposals ever created.
func (s *State) NumProposals() int {
	return len(s.proposals)
}

// Proposals returns the working set of proposals, keyed by ID.
func (s *State) Proposals() map[ids.ID]*governance.Proposal {
	return s.proposals
}

// PutProposal implements governance.Store.
func (s *State) PutProposal(p *Proposal) error {
	record := newProposalRecord(p)
	bytes, err := Codec.Marshal(CodecVersion, record)
	if err != nil {
		return err
	}
	if err := s.proposalDB.Put(p.ID[:], bytes); err != nil {
		return err
	}
	s.proposals[p.ID] = p
	return nil
}

func (s *State) putAccount(addr ids.ShortID, segments []*ledger.Segment) error {
	bytes, err := Codec.Marshal(CodecVersion, &accountRecord{Segments: segments})
	if err != nil {
		return err
	}
	return s.accountDB.Put(addr.Bytes(), bytes)
}

func (s *State) putCounters(minted, seq uint64) error {
	bytes, err := Codec.Marshal(CodecVersion, &counterRecord{
		MintedSupply: minted,
		SegmentSeq:   seq,
	})
	if err != nil {
		return err
	}
	return s.counterDB.Put(countersKey, bytes)
}

// Proposal aliases the governance type for the Store interface.
type Proposal = governance.Proposal

func newProposalRecord(p *Proposal) *proposalRecord {
	voteAddrs := make([]ids.ShortID, 0, len(p.Votes))
	for addr := range p.Votes {
		voteAddrs = append(voteAddrs, addr)
	}
	utils.Sort(voteAddrs)
	voteDecisions := make([]bool, len(voteAddrs))
	for i, addr := range voteAddrs {
		voteDecisions[i] = p.Votes[addr]
	}
	return &proposalRecord{
		ID:            p.ID,
		Action:        p.Action,
		Eligible:      p.Eligible,
		VoteAddrs:     voteAddrs,
		VoteDecisions: voteDecisions,
		Threshold:     p.Threshold,
		Status:        uint8(p.Status),
		CreatedAt:     p.CreatedAt,
		ExpiresAt:     p.ExpiresAt,
	}
}

func (r *proposalRecord) proposal() (*Proposal, error) {
	if len(r.VoteAddrs) != len(r.VoteDecisions) {
		return nil, fmt.Errorf("%w: proposal %s vote arity", ErrCorruptRecord, r.ID)
	}
	votes := make(map[ids.ShortID]bool, len(r.VoteAddrs))
	for i, addr := range r.VoteAddrs {
		votes[addr] = r.VoteDecisions[i]
	}
	return &Proposal{
		ID:        r.ID,
		Action:    r.Action,
		Eligible:  r.Eligible,
		Votes:     votes,
		Threshold: r.Threshold,
		Status:    governance.Status(r.Status),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}, nil
}
