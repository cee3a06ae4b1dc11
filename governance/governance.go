// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package governance models proposals as an explicit finite-state machine:
// Open moves to Passed or Rejected by threshold arithmetic, or to Expired by
// the clock. Suffrage is provenance-gated: a voter with no valid-provenance
// balance has no vote.
package governance

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
	"github.com/luxfi/utils"

	"github.com/luxfi/pegvm/utils/hashing"
	"github.com/luxfi/pegvm/utils/timer/mockable"
)

var (
	ErrUnauthorized     = errors.New("voter not authorized")
	ErrAlreadyVoted     = errors.New("voter already voted")
	ErrProposalClosed   = errors.New("proposal is not open")
	ErrProposalNotFound = errors.New("proposal not found")
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrNotAdmin         = errors.New("proposer is not the governance admin")
	ErrNoEligibleVoters = errors.New("no eligible voters")
)

// Status is the lifecycle state of a proposal. Every status except Open is
// terminal.
type Status uint8

const (
	Open Status = iota
	Passed
	Rejected
	Expired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Passed:
		return "passed"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Proposal is a multi-signature governance action in flight.
type Proposal struct {
	ID        ids.ID
	Action    string
	Eligible  []ids.ShortID // sorted and unique
	Votes     map[ids.ShortID]bool
	Threshold uint32
	Status    Status
	CreatedAt int64 // unix seconds
	ExpiresAt int64
}

// Tally returns the affirmative and negative vote counts.
func (p *Proposal) Tally() (votesFor, votesAgainst uint32) {
	for _, approve := range p.Votes {
		if approve {
			votesFor++
		} else {
			votesAgainst++
		}
	}
	return votesFor, votesAgainst
}

// VoteOutcome reports the proposal state after an accepted vote. Action is
// populated only on the vote that passes the proposal, for external
// execution.
type VoteOutcome struct {
	ProposalID   ids.ID `json:"proposalID"`
	Status       Status `json:"status"`
	VotesFor     uint32 `json:"votesFor"`
	VotesAgainst uint32 `json:"votesAgainst"`
	Action       string `json:"action,omitempty"`
}

// BalanceChecker returns a voter's current valid-provenance balance.
type BalanceChecker func(ids.ShortID) uint64

// Store persists proposals; the gateway's transaction boundary decides when
// the staged write becomes durable.
type Store interface {
	PutProposal(p *Proposal) error
}

// Engine owns every proposal and its transitions.
type Engine struct {
	admin        ids.ShortID
	proposals    map[ids.ID]*Proposal
	validBalance BalanceChecker
	store        Store
	clock        *mockable.Clock
	created      uint64
}

func New(
	admin ids.ShortID,
	existing map[ids.ID]*Proposal,
	validBalance BalanceChecker,
	store Store,
	clock *mockable.Clock,
) *Engine {
	if existing == nil {
		existing = make(map[ids.ID]*Proposal)
	}
	return &Engine{
		admin:        admin,
		proposals:    existing,
		validBalance: validBalance,
		store:        store,
		clock:        clock,
		created:      uint64(len(existing)),
	}
}

// Create opens a new proposal. Only the governance admin may propose.
func (e *Engine) Create(
	proposer ids.ShortID,
	action string,
	eligible []ids.ShortID,
	threshold uint32,
	ttl time.Duration,
) (ids.ID, error) {
	if proposer != e.admin {
		return ids.Empty, ErrNotAdmin
	}

	voters := set.Of(eligible...)
	if voters.Len() == 0 {
		return ids.Empty, ErrNoEligibleVoters
	}
	if threshold == 0 || threshold > uint32(voters.Len()) {
		return ids.Empty, fmt.Errorf("%w: %d of %d voters", ErrInvalidThreshold, threshold, voters.Len())
	}

	sorted := voters.List()
	utils.Sort(sorted)

	now := e.clock.Time()
	e.created++
	p := &Proposal{
		ID:        proposalID(proposer, action, e.created, now),
		Action:    action,
		Eligible:  sorted,
		Votes:     make(map[ids.ShortID]bool),
		Threshold: threshold,
		Status:    Open,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := e.store.PutProposal(p); err != nil {
		return ids.Empty, err
	}
	e.proposals[p.ID] = p
	return p.ID, nil
}

// Get returns the proposal, expiring it first if its deadline has passed.
func (e *Engine) Get(id ids.ID) (*Proposal, error) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	if err := e.expireIfDue(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Vote records one voter's decision and re-tallies. Reaching the threshold
// passes the proposal; a tally that can no longer reach the threshold
// rejects it eagerly instead of waiting for the remaining voters.
func (e *Engine) Vote(id ids.ID, voter ids.ShortID, approve bool) (*VoteOutcome, error) {
	p, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != Open {
		return nil, fmt.Errorf("%w: %s", ErrProposalClosed, p.Status)
	}
	if !set.Of(p.Eligible...).Contains(voter) {
		return nil, fmt.Errorf("%w: not an eligible voter", ErrUnauthorized)
	}
	if e.validBalance(voter) == 0 {
		return nil, fmt.Errorf("%w: no valid-provenance holdings", ErrUnauthorized)
	}
	if _, voted := p.Votes[voter]; voted {
		return nil, ErrAlreadyVoted
	}

	p.Votes[voter] = approve
	votesFor, votesAgainst := p.Tally()
	remaining := uint32(len(p.Eligible)) - votesFor - votesAgainst
	switch {
	case votesFor >= p.Threshold:
		p.Status = Passed
	case votesFor+remaining < p.Threshold:
		p.Status = Rejected
	}

	if err := e.store.PutProposal(p); err != nil {
		// Undo the in-memory vote so a storage failure leaves the
		// proposal untouched.
		delete(p.Votes, voter)
		p.Status = Open
		return nil, err
	}

	outcome := &VoteOutcome{
		ProposalID:   p.ID,
		Status:       p.Status,
		VotesFor:     votesFor,
		VotesAgainst: votesAgainst,
	}
	if p.Status == Passed {
		outcome.Action = p.Action
	}
	return outcome, nil
}

// Expire moves an open proposal past its deadline to Expired. It is a no-op
// for proposals that are still live or already terminal.
func (e *Engine) Expire(id ids.ID) error {
	p, ok := e.proposals[id]
	if !ok {
		return ErrProposalNotFound
	}
	return e.expireIfDue(p)
}

func (e *Engine) expireIfDue(p *Proposal) error {
	if p.Status != Open || e.clock.Time().Unix() < p.ExpiresAt {
		return nil
	}
	p.Status = Expired
	if err := e.store.PutProposal(p); err != nil {
		p.Status = Open
		return err
	}
	return nil
}

func proposalID(proposer ids.ShortID, action string, nonce uint64, now time.Time) ids.ID {
	preimage := make([]byte, 0, len(proposer)+len(action)+16)
	preimage = append(preimage, proposer.Bytes()...)
	preimage = append(preimage, action...)
	preimage = binary.BigEndian.AppendUint64(preimage, nonce)
	preimage = binary.BigEndian.AppendUint64(preimage, uint64(now.Unix()))
	return hashing.ComputeHash256Array(preimage)
}
