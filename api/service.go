// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the peg ledger over JSON-RPC.
package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/luxfi/ids"

	"github.com/luxfi/pegvm/governance"
	"github.com/luxfi/pegvm/ledger"
	"github.com/luxfi/pegvm/peg"
	"github.com/luxfi/pegvm/source"
)

// VM is the subset of the virtual machine the service dispatches to.
type VM interface {
	Mint(to ids.ShortID, amount uint64, channel source.Channel, proof *source.Proof) (uint64, error)
	Transfer(from, to ids.ShortID, amount uint64) error
	VerifyPeg(holder ids.ShortID) (*peg.CertifiedValue, error)
	CreateProposal(proposer ids.ShortID, action string, eligible []ids.ShortID, threshold uint32) (ids.ID, error)
	GovernanceVote(proposalID ids.ID, voter ids.ShortID, approve bool) (*governance.VoteOutcome, error)
	GetProposal(proposalID ids.ID) (*governance.Proposal, error)
	VerifyEcosystemEntry(addr ids.ShortID) bool
	BatchVerify(addrs []ids.ShortID) []bool
	Balance(addr ids.ShortID) uint64
	ValidBalance(addr ids.ShortID) uint64
	Segments(addr ids.ShortID) []ledger.Segment
	MintedSupply() uint64
	NextMintDigest(to ids.ShortID, amount uint64, channel source.Channel) ([]byte, error)
}

// Service is the JSON-RPC handler registered by the VM.
type Service struct {
	vm VM
}

// NewService returns the RPC service backed by vm.
func NewService(vm VM) *Service {
	return &Service{vm: vm}
}

// PingReply is the reply from Ping.
type PingReply struct {
	Success bool `json:"success"`
}

// Ping returns success to confirm the service is reachable.
func (*Service) Ping(_ *http.Request, _ *struct{}, reply *PingReply) error {
	reply.Success = true
	return nil
}

// MintArgs are the arguments for Mint.
type MintArgs struct {
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
	Channel   string `json:"channel"`
	Signature string `json:"signature"`
}

// MintReply is the reply from Mint.
type MintReply struct {
	Seq          uint64 `json:"seq"`
	MintedSupply uint64 `json:"mintedSupply"`
}

// Mint credits newly issued units to an address. The signature must be
// produced by the channel's registered authority over the next mint digest.
func (s *Service) Mint(_ *http.Request, args *MintArgs, reply *MintReply) error {
	to, err := ids.ShortFromString(args.To)
	if err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}
	channel, err := source.ParseChannel(args.Channel)
	if err != nil {
		return err
	}
	sig, err := decodeHex(args.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	seq, err := s.vm.Mint(to, args.Amount, channel, &source.Proof{Signature: sig})
	if err != nil {
		return err
	}
	reply.Seq = seq
	reply.MintedSupply = s.vm.MintedSupply()
	return nil
}

// MintDigestArgs are the arguments for MintDigest.
type MintDigestArgs struct {
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
	Channel string `json:"channel"`
}

// MintDigestReply is the reply from MintDigest.
type MintDigestReply struct {
	Digest string `json:"digest"`
}

// MintDigest returns the hex digest an authority must sign to authorize the
// next mint of the given shape.
func (s *Service) MintDigest(_ *http.Request, args *MintDigestArgs, reply *MintDigestReply) error {
	to, err := ids.ShortFromString(args.To)
	if err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}
	channel, err := source.ParseChannel(args.Channel)
	if err != nil {
		return err
	}

	digest, err := s.vm.NextMintDigest(to, args.Amount, channel)
	if err != nil {
		return err
	}
	reply.Digest = hex.EncodeToString(digest)
	return nil
}

// TransferArgs are the arguments for Transfer.
type TransferArgs struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// TransferReply is the reply from Transfer.
type TransferReply struct {
	Success bool `json:"success"`
}

// Transfer moves amount from one address to another, consuming valid
// provenance before invalid.
func (s *Service) Transfer(_ *http.Request, args *TransferArgs, reply *TransferReply) error {
	from, err := ids.ShortFromString(args.From)
	if err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	to, err := ids.ShortFromString(args.To)
	if err != nil {
		return fmt.Errorf("invalid to address: %w", err)
	}

	if err := s.vm.Transfer(from, to, args.Amount); err != nil {
		return err
	}
	reply.Success = true
	return nil
}

// VerifyPegArgs are the arguments for VerifyPeg.
type VerifyPegArgs struct {
	Holder string `json:"holder"`
}

// VerifyPegReply is the reply from VerifyPeg.
type VerifyPegReply struct {
	ValidBalance uint64 `json:"validBalance"`
	MicroUSD     string `json:"microUSD"`
}

// VerifyPeg certifies the USD value of the holder's valid balance.
func (s *Service) VerifyPeg(_ *http.Request, args *VerifyPegArgs, reply *VerifyPegReply) error {
	holder, err := ids.ShortFromString(args.Holder)
	if err != nil {
		return fmt.Errorf("invalid holder address: %w", err)
	}

	certified, err := s.vm.VerifyPeg(holder)
	if err != nil {
		return err
	}
	reply.ValidBalance = certified.ValidBalance
	reply.MicroUSD = certified.MicroUSD.String()
	return nil
}

// CreateProposalArgs are the arguments for CreateProposal.
type CreateProposalArgs struct {
	Proposer  string   `json:"proposer"`
	Action    string   `json:"action"`
	Eligible  []string `json:"eligible"`
	Threshold uint32   `json:"threshold"`
}

// CreateProposalReply is the reply from CreateProposal.
type CreateProposalReply struct {
	ProposalID string `json:"proposalID"`
}

// CreateProposal opens a new governance proposal.
func (s *Service) CreateProposal(_ *http.Request, args *CreateProposalArgs, reply *CreateProposalReply) error {
	proposer, err := ids.ShortFromString(args.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer address: %w", err)
	}
	eligible := make([]ids.ShortID, len(args.Eligible))
	for i, addr := range args.Eligible {
		eligible[i], err = ids.ShortFromString(addr)
		if err != nil {
			return fmt.Errorf("invalid eligible address %q: %w", addr, err)
		}
	}

	proposalID, err := s.vm.CreateProposal(proposer, args.Action, eligible, args.Threshold)
	if err != nil {
		return err
	}
	reply.ProposalID = proposalID.String()
	return nil
}

// VoteArgs are the arguments for Vote.
type VoteArgs struct {
	ProposalID string `json:"proposalID"`
	Voter      string `json:"voter"`
	Approve    bool   `json:"approve"`
}

// VoteReply is the reply from Vote.
type VoteReply struct {
	Status       string `json:"status"`
	VotesFor     uint32 `json:"votesFor"`
	VotesAgainst uint32 `json:"votesAgainst"`
	Action       string `json:"action,omitempty"`
}

// Vote records a governance vote and reports the re-tallied proposal state.
func (s *Service) Vote(_ *http.Request, args *VoteArgs, reply *VoteReply) error {
	proposalID, err := ids.FromString(args.ProposalID)
	if err != nil {
		return fmt.Errorf("invalid proposal ID: %w", err)
	}
	voter, err := ids.ShortFromString(args.Voter)
	if err != nil {
		return fmt.Errorf("invalid voter address: %w", err)
	}

	outcome, err := s.vm.GovernanceVote(proposalID, voter, args.Approve)
	if err != nil {
		return err
	}
	reply.Status = outcome.Status.String()
	reply.VotesFor = outcome.VotesFor
	reply.VotesAgainst = outcome.VotesAgainst
	reply.Action = outcome.Action
	return nil
}

// GetProposalArgs are the arguments for GetProposal.
type GetProposalArgs struct {
	ProposalID string `json:"proposalID"`
}

// GetProposalReply is the reply from GetProposal.
type GetProposalReply struct {
	Action       string   `json:"action"`
	Eligible     []string `json:"eligible"`
	Threshold    uint32   `json:"threshold"`
	Status       string   `json:"status"`
	VotesFor     uint32   `json:"votesFor"`
	VotesAgainst uint32   `json:"votesAgainst"`
	CreatedAt    int64    `json:"createdAt"`
	ExpiresAt    int64    `json:"expiresAt"`
}

// GetProposal returns the current state of a proposal.
func (s *Service) GetProposal(_ *http.Request, args *GetProposalArgs, reply *GetProposalReply) error {
	proposalID, err := ids.FromString(args.ProposalID)
	if err != nil {
		return fmt.Errorf("invalid proposal ID: %w", err)
	}

	proposal, err := s.vm.GetProposal(proposalID)
	if err != nil {
		return err
	}
	reply.Action = proposal.Action
	reply.Eligible = make([]string, len(proposal.Eligible))
	for i, addr := range proposal.Eligible {
		reply.Eligible[i] = addr.String()
	}
	reply.Threshold = proposal.Threshold
	reply.Status = proposal.Status.String()
	reply.VotesFor, reply.VotesAgainst = proposal.Tally()
	reply.CreatedAt = proposal.CreatedAt
	reply.ExpiresAt = proposal.ExpiresAt
	return nil
}

// VerifyEntryArgs are the arguments for VerifyEntry.
type VerifyEntryArgs struct {
	Address string `json:"address"`
}

// VerifyEntryReply is the reply from VerifyEntry.
type VerifyEntryReply struct {
	Verified bool `json:"verified"`
}

// VerifyEntry reports whether the address holds a fully valid balance and may
// enter the ecosystem.
func (s *Service) VerifyEntry(_ *http.Request, args *VerifyEntryArgs, reply *VerifyEntryReply) error {
	addr, err := ids.ShortFromString(args.Address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	reply.Verified = s.vm.VerifyEcosystemEntry(addr)
	return nil
}

// BatchVerifyArgs are the arguments for BatchVerify.
type BatchVerifyArgs struct {
	Addresses []string `json:"addresses"`
}

// BatchVerifyReply is the reply from BatchVerify.
type BatchVerifyReply struct {
	Verified []bool `json:"verified"`
}

// BatchVerify runs the ecosystem entry check over a set of addresses.
func (s *Service) BatchVerify(_ *http.Request, args *BatchVerifyArgs, reply *BatchVerifyReply) error {
	addrs := make([]ids.ShortID, len(args.Addresses))
	for i, raw := range args.Addresses {
		addr, err := ids.ShortFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", raw, err)
		}
		addrs[i] = addr
	}
	reply.Verified = s.vm.BatchVerify(addrs)
	return nil
}

// BalanceArgs are the arguments for Balance.
type BalanceArgs struct {
	Address string `json:"address"`
}

// BalanceReply is the reply from Balance.
type BalanceReply struct {
	Balance      uint64 `json:"balance"`
	ValidBalance uint64 `json:"validBalance"`
}

// Balance returns the total and valid-provenance balances of an address.
func (s *Service) Balance(_ *http.Request, args *BalanceArgs, reply *BalanceReply) error {
	addr, err := ids.ShortFromString(args.Address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	reply.Balance = s.vm.Balance(addr)
	reply.ValidBalance = s.vm.ValidBalance(addr)
	return nil
}

// SegmentJSON is the JSON shape of a provenance segment.
type SegmentJSON struct {
	Seq        uint64 `json:"seq"`
	Amount     uint64 `json:"amount"`
	Source     string `json:"source"`
	OriginHash string `json:"originHash"`
	Parent     uint64 `json:"parent"`
	Valid      bool   `json:"valid"`
}

// GetSegmentsArgs are the arguments for GetSegments.
type GetSegmentsArgs struct {
	Address string `json:"address"`
}

// GetSegmentsReply is the reply from GetSegments.
type GetSegmentsReply struct {
	Segments []SegmentJSON `json:"segments"`
}

// GetSegments returns the address's provenance segments in holding order.
func (s *Service) GetSegments(_ *http.Request, args *GetSegmentsArgs, reply *GetSegmentsReply) error {
	addr, err := ids.ShortFromString(args.Address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	segments := s.vm.Segments(addr)
	reply.Segments = make([]SegmentJSON, len(segments))
	for i, seg := range segments {
		reply.Segments[i] = SegmentJSON{
			Seq:        seg.Seq,
			Amount:     seg.Amount,
			Source:     seg.Source.String(),
			OriginHash: seg.OriginHash.String(),
			Parent:     seg.Parent,
			Valid:      seg.Valid,
		}
	}
	return nil
}

// SupplyReply is the reply from Supply.
type SupplyReply struct {
	MintedSupply uint64 `json:"mintedSupply"`
}

// Supply returns the total units minted so far.
func (s *Service) Supply(_ *http.Request, _ *struct{}, reply *SupplyReply) error {
	reply.MintedSupply = s.vm.MintedSupply()
	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
