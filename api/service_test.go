// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pegvm/governance"
	"github.com/luxfi/pegvm/ledger"
	"github.com/luxfi/pegvm/peg"
	"github.com/luxfi/pegvm/source"
)

// stubVM records the last call and returns canned results.
type stubVM struct {
	mintTo      ids.ShortID
	mintChannel source.Channel
	mintProof   []byte

	transferFrom   ids.ShortID
	transferTo     ids.ShortID
	transferAmount uint64
}

func (s *stubVM) Mint(to ids.ShortID, _ uint64, channel source.Channel, proof *source.Proof) (uint64, error) {
	s.mintTo = to
	s.mintChannel = channel
	s.mintProof = proof.Signature
	return 7, nil
}

func (s *stubVM) Transfer(from, to ids.ShortID, amount uint64) error {
	s.transferFrom = from
	s.transferTo = to
	s.transferAmount = amount
	return nil
}

func (*stubVM) VerifyPeg(ids.ShortID) (*peg.CertifiedValue, error) {
	return &peg.CertifiedValue{
		ValidBalance: 1_000_000,
		MicroUSD:     big.NewInt(3_141_590),
	}, nil
}

func (*stubVM) CreateProposal(ids.ShortID, string, []ids.ShortID, uint32) (ids.ID, error) {
	return ids.ID{1}, nil
}

func (*stubVM) GovernanceVote(proposalID ids.ID, _ ids.ShortID, _ bool) (*governance.VoteOutcome, error) {
	return &governance.VoteOutcome{
		ProposalID: proposalID,
		Status:     governance.Passed,
		VotesFor:   2,
		Action:     "rotate-authority",
	}, nil
}

func (*stubVM) GetProposal(proposalID ids.ID) (*governance.Proposal, error) {
	return &governance.Proposal{
		ID:        proposalID,
		Action:    "rotate-authority",
		Eligible:  []ids.ShortID{{'v'}},
		Votes:     map[ids.ShortID]bool{{'v'}: true},
		Threshold: 1,
		Status:    governance.Passed,
	}, nil
}

func (*stubVM) VerifyEcosystemEntry(ids.ShortID) bool { return true }

func (*stubVM) BatchVerify(addrs []ids.ShortID) []bool {
	return make([]bool, len(addrs))
}

func (*stubVM) Balance(ids.ShortID) uint64      { return 500 }
func (*stubVM) ValidBalance(ids.ShortID) uint64 { return 300 }

func (*stubVM) Segments(ids.ShortID) []ledger.Segment {
	return []ledger.Segment{{
		Seq:    3,
		Amount: 500,
		Source: source.Mining,
		Valid:  true,
	}}
}

func (*stubVM) MintedSupply() uint64 { return 12345 }

func (*stubVM) NextMintDigest(ids.ShortID, uint64, source.Channel) ([]byte, error) {
	return []byte{0xde, 0xad, 0xbe, 0xef}, nil
}

func TestPing(t *testing.T) {
	reply := &PingReply{}
	require.NoError(t, NewService(&stubVM{}).Ping(nil, nil, reply))
	require.True(t, reply.Success)
}

func TestMint(t *testing.T) {
	require := require.New(t)

	stub := &stubVM{}
	service := NewService(stub)
	to := ids.ShortID{'x'}
	sig := []byte{1, 2, 3}

	reply := &MintReply{}
	require.NoError(service.Mint(nil, &MintArgs{
		To:        to.String(),
		Amount:    1000,
		Channel:   "mining",
		Signature: "0x" + hex.EncodeToString(sig),
	}, reply))
	require.Equal(uint64(7), reply.Seq)
	require.Equal(uint64(12345), reply.MintedSupply)
	require.Equal(to, stub.mintTo)
	require.Equal(source.Mining, stub.mintChannel)
	require.Equal(sig, stub.mintProof)

	// Bad inputs are rejected before reaching the VM.
	require.Error(service.Mint(nil, &MintArgs{To: "not an address"}, reply))
	require.Error(service.Mint(nil, &MintArgs{To: to.String(), Channel: "donations"}, reply))
	require.Error(service.Mint(nil, &MintArgs{To: to.String(), Channel: "mining", Signature: "zz"}, reply))
}

func TestTransfer(t *testing.T) {
	require := require.New(t)

	stub := &stubVM{}
	service := NewService(stub)
	from := ids.ShortID{'a'}
	to := ids.ShortID{'b'}

	reply := &TransferReply{}
	require.NoError(service.Transfer(nil, &TransferArgs{
		From:   from.String(),
		To:     to.String(),
		Amount: 42,
	}, reply))
	require.True(reply.Success)
	require.Equal(from, stub.transferFrom)
	require.Equal(to, stub.transferTo)
	require.Equal(uint64(42), stub.transferAmount)
}

func TestVerifyPeg(t *testing.T) {
	require := require.New(t)

	reply := &VerifyPegReply{}
	require.NoError(NewService(&stubVM{}).VerifyPeg(nil, &VerifyPegArgs{
		Holder: ids.ShortID{'h'}.String(),
	}, reply))
	require.Equal(uint64(1_000_000), reply.ValidBalance)
	require.Equal("3141590", reply.MicroUSD)
}

func TestGetProposal(t *testing.T) {
	require := require.New(t)

	reply := &GetProposalReply{}
	require.NoError(NewService(&stubVM{}).GetProposal(nil, &GetProposalArgs{
		ProposalID: ids.ID{1}.String(),
	}, reply))
	require.Equal("rotate-authority", reply.Action)
	require.Equal("passed", reply.Status)
	require.Equal(uint32(1), reply.VotesFor)
}

func TestMintDigest(t *testing.T) {
	require := require.New(t)

	reply := &MintDigestReply{}
	require.NoError(NewService(&stubVM{}).MintDigest(nil, &MintDigestArgs{
		To:      ids.ShortID{'x'}.String(),
		Amount:  1,
		Channel: "rewards",
	}, reply))
	require.Equal("deadbeef", reply.Digest)
}

func TestGetSegments(t *testing.T) {
	require := require.New(t)

	reply := &GetSegmentsReply{}
	require.NoError(NewService(&stubVM{}).GetSegments(nil, &GetSegmentsArgs{
		Address: ids.ShortID{'x'}.String(),
	}, reply))
	require.Len(reply.Segments, 1)
	require.Equal("mining", reply.Segments[0].Source)
	require.True(reply.Segments[0].Valid)
}
