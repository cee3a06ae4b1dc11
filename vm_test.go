// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pegvm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pegvm/config"
	"github.com/luxfi/pegvm/governance"
	"github.com/luxfi/pegvm/ledger"
	"github.com/luxfi/pegvm/peg"
	"github.com/luxfi/pegvm/source"
)

type testVM struct {
	*VM
	db    database.Database
	admin ids.ShortID
	keys  map[source.Channel]*secp256k1.PrivateKey
}

type testGenesisOpts struct {
	allocations []GenesisAllocation
	configBytes []byte
}

func newTestVM(t *testing.T, opts testGenesisOpts) *testVM {
	require := require.New(t)

	keys := make(map[source.Channel]*secp256k1.PrivateKey)
	var authorities []GenesisAuthority
	for _, c := range []source.Channel{source.Mining, source.Rewards, source.P2P} {
		key, err := secp256k1.NewPrivateKey()
		require.NoError(err)
		keys[c] = key
		authorities = append(authorities, GenesisAuthority{
			Channel: c,
			Address: key.Address(),
		})
	}

	admin := ids.ShortID{'a', 'd', 'm', 'i', 'n'}
	genesisBytes, err := BuildGenesis(&Genesis{
		NetworkID:   1,
		Admin:       admin,
		Authorities: authorities,
		Allocations: opts.allocations,
	})
	require.NoError(err)

	db := memdb.New()
	vm := &VM{}
	require.NoError(vm.Initialize(context.Background(), db, genesisBytes, opts.configBytes, nil))
	vm.SetClockTime(time.Unix(1_700_000_000, 0))

	return &testVM{
		VM:    vm,
		db:    db,
		admin: admin,
		keys:  keys,
	}
}

// mint signs the pending mint digest with the channel authority's key and
// submits the mint.
func (tvm *testVM) mint(t *testing.T, to ids.ShortID, amount uint64, c source.Channel) uint64 {
	require := require.New(t)

	digest, err := tvm.NextMintDigest(to, amount, c)
	require.NoError(err)
	sig, err := tvm.keys[c].SignHash(digest)
	require.NoError(err)

	seq, err := tvm.Mint(to, amount, c, &source.Proof{Signature: sig})
	require.NoError(err)
	return seq
}

func TestInitialize(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{})

	v, err := tvm.Version(context.Background())
	require.NoError(err)
	require.Equal(Version.String(), v)

	report, err := tvm.HealthCheck(context.Background())
	require.NoError(err)
	require.True(report.(map[string]interface{})["healthy"].(bool))

	handlers, err := tvm.CreateHandlers(context.Background())
	require.NoError(err)
	require.Contains(handlers, "")

	require.NoError(tvm.Shutdown(context.Background()))
	require.NoError(tvm.Shutdown(context.Background()))

	_, err = tvm.Mint(ids.ShortID{'x'}, 1, source.Mining, nil)
	require.ErrorIs(err, errShutdown)
}

func TestInitializeRejectsBadInputs(t *testing.T) {
	require := require.New(t)

	vm := &VM{}
	err := vm.Initialize(context.Background(), memdb.New(), nil, nil, nil)
	require.ErrorIs(err, errNoGenesis)

	vm = &VM{}
	err = vm.Initialize(context.Background(), memdb.New(), []byte("not a genesis"), nil, nil)
	require.ErrorContains(err, "genesis")
}

func TestMintToTransferFlow(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{})

	addrX := ids.ShortID{'x'}
	addrZ := ids.ShortID{'z'}

	mintSeq := tvm.mint(t, addrX, 1_000_000, source.Mining)
	require.Equal(uint64(1_000_000), tvm.Balance(addrX))
	require.Equal(uint64(1_000_000), tvm.ValidBalance(addrX))
	require.True(tvm.VerifyEcosystemEntry(addrX))

	require.NoError(tvm.Transfer(addrX, addrZ, 400_000))
	require.Equal(uint64(600_000), tvm.Balance(addrX))
	require.Equal(uint64(400_000), tvm.Balance(addrZ))

	// The moved segment traces back to the original mint.
	zSegs := tvm.Segments(addrZ)
	require.Len(zSegs, 1)
	require.Equal(mintSeq, zSegs[0].Parent)
	require.Equal(tvm.Segments(addrX)[0].OriginHash, zSegs[0].OriginHash)
	require.True(zSegs[0].Valid)
	require.True(tvm.VerifyEcosystemEntry(addrZ))
}

func TestMintRejectedSourceIsAtomic(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{})

	addrY := ids.ShortID{'y'}

	// A mint through an unapproved channel fails before anything is
	// staged, even with a plausible signature attached.
	digest, err := tvm.NextMintDigest(addrY, 500, source.Mining)
	require.NoError(err)
	sig, err := tvm.keys[source.Mining].SignHash(digest)
	require.NoError(err)
	_, err = tvm.Mint(addrY, 500, source.Other, &source.Proof{Signature: sig})
	require.ErrorIs(err, source.ErrInvalidSource)

	require.Zero(tvm.Balance(addrY))
	require.Zero(tvm.MintedSupply())
	require.False(tvm.VerifyEcosystemEntry(addrY))

	// A valid mint with a signature from the wrong authority also fails.
	sig, err = tvm.keys[source.Rewards].SignHash(digest)
	require.NoError(err)
	_, err = tvm.Mint(addrY, 500, source.Mining, &source.Proof{Signature: sig})
	require.ErrorIs(err, source.ErrInvalidSource)
	require.Zero(tvm.MintedSupply())
}

func TestVerifyPeg(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{})

	holder := ids.ShortID{'h'}
	tvm.mint(t, holder, 1_000_000, source.Mining)

	certified, err := tvm.VerifyPeg(holder)
	require.NoError(err)
	require.Equal(uint64(1_000_000), certified.ValidBalance)
	// 314159e6 * 1e6 / 1e11 micro-USD.
	require.Equal("3141590", certified.MicroUSD.String())

	_, err = tvm.VerifyPeg(ids.ShortID{'n', 'o'})
	require.ErrorIs(err, peg.ErrNoValidHoldings)
}

func TestVerifyPegExcludesInvalid(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{
		allocations: []GenesisAllocation{
			{Address: ids.ShortID{'l'}, Amount: 5_000, Channel: source.Other},
		},
	})

	legacy := ids.ShortID{'l'}
	require.Equal(uint64(5_000), tvm.Balance(legacy))
	require.Zero(tvm.ValidBalance(legacy))

	// All the balance in the world certifies nothing without provenance.
	_, err := tvm.VerifyPeg(legacy)
	require.ErrorIs(err, peg.ErrNoValidHoldings)

	tvm.mint(t, legacy, 1_000, source.Rewards)
	certified, err := tvm.VerifyPeg(legacy)
	require.NoError(err)
	require.Equal(uint64(1_000), certified.ValidBalance)
}

func TestFlatPegPolicy(t *testing.T) {
	require := require.New(t)

	configBytes, err := json.Marshal(config.Config{
		PegTargetMicroUSD: peg.DefaultTargetMicroUSD,
		TotalSupply:       peg.DefaultTotalSupply,
		PegPolicy:         config.PolicyFlat,
		ProposalTTL:       time.Hour,
	})
	require.NoError(err)
	tvm := newTestVM(t, testGenesisOpts{configBytes: configBytes})

	holder := ids.ShortID{'h'}
	tvm.mint(t, holder, 2, source.Mining)

	certified, err := tvm.VerifyPeg(holder)
	require.NoError(err)
	require.Equal("628318000000", certified.MicroUSD.String())
}

func TestGovernanceFlow(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{})

	voters := make([]ids.ShortID, 5)
	for i := range voters {
		voters[i] = ids.ShortID{'v', byte(i)}
		tvm.mint(t, voters[i], 1_000, source.Mining)
	}

	proposalID, err := tvm.CreateProposal(tvm.admin, "rotate-mining-authority", voters, 3)
	require.NoError(err)

	// Non-admin proposals are refused.
	_, err = tvm.CreateProposal(voters[0], "x", voters, 1)
	require.ErrorIs(err, governance.ErrNotAdmin)

	outcome, err := tvm.GovernanceVote(proposalID, voters[0], true)
	require.NoError(err)
	require.Equal(governance.Open, outcome.Status)

	outcome, err = tvm.GovernanceVote(proposalID, voters[1], true)
	require.NoError(err)
	require.Equal(governance.Open, outcome.Status)

	outcome, err = tvm.GovernanceVote(proposalID, voters[2], true)
	require.NoError(err)
	require.Equal(governance.Passed, outcome.Status)
	require.Equal("rotate-mining-authority", outcome.Action)
}

func TestGovernanceEagerReject(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{})

	voters := make([]ids.ShortID, 5)
	for i := range voters {
		voters[i] = ids.ShortID{'v', byte(i)}
		tvm.mint(t, voters[i], 1_000, source.Mining)
	}

	proposalID, err := tvm.CreateProposal(tvm.admin, "raise-mint-cap", voters, 3)
	require.NoError(err)

	// Three rejections out of five make the threshold unreachable; the
	// proposal must reject immediately.
	for i := 0; i < 2; i++ {
		outcome, err := tvm.GovernanceVote(proposalID, voters[i], false)
		require.NoError(err)
		require.Equal(governance.Open, outcome.Status)
	}
	outcome, err := tvm.GovernanceVote(proposalID, voters[2], false)
	require.NoError(err)
	require.Equal(governance.Rejected, outcome.Status)

	_, err = tvm.GovernanceVote(proposalID, voters[3], true)
	require.ErrorIs(err, governance.ErrProposalClosed)
}

func TestGovernanceRequiresValidHoldings(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{
		allocations: []GenesisAllocation{
			{Address: ids.ShortID{'t'}, Amount: 1_000_000, Channel: source.Other},
		},
	})

	tainted := ids.ShortID{'t'}
	funded := ids.ShortID{'f'}
	tvm.mint(t, funded, 1_000, source.Mining)

	proposalID, err := tvm.CreateProposal(tvm.admin, "x", []ids.ShortID{tainted, funded}, 1)
	require.NoError(err)

	// A holder of purely invalid balance is on the list but has no vote.
	_, err = tvm.GovernanceVote(proposalID, tainted, true)
	require.ErrorIs(err, governance.ErrUnauthorized)

	outcome, err := tvm.GovernanceVote(proposalID, funded, true)
	require.NoError(err)
	require.Equal(governance.Passed, outcome.Status)
}

func TestProposalExpiry(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{})

	voter := ids.ShortID{'v'}
	tvm.mint(t, voter, 1_000, source.Mining)

	proposalID, err := tvm.CreateProposal(tvm.admin, "x", []ids.ShortID{voter}, 1)
	require.NoError(err)

	tvm.SetClockTime(time.Unix(1_700_000_000, 0).Add(tvm.Config.ProposalTTL + time.Second))

	p, err := tvm.GetProposal(proposalID)
	require.NoError(err)
	require.Equal(governance.Expired, p.Status)

	_, err = tvm.GovernanceVote(proposalID, voter, true)
	require.ErrorIs(err, governance.ErrProposalClosed)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{
		allocations: []GenesisAllocation{
			{Address: ids.ShortID{'l'}, Amount: 777, Channel: source.Other},
		},
	})

	addrX := ids.ShortID{'x'}
	addrZ := ids.ShortID{'z'}
	tvm.mint(t, addrX, 1_000_000, source.Mining)
	require.NoError(tvm.Transfer(addrX, addrZ, 400_000))

	voter := addrX
	proposalID, err := tvm.CreateProposal(tvm.admin, "x", []ids.ShortID{voter}, 1)
	require.NoError(err)

	segmentsBefore := tvm.Segments(addrZ)
	digestBefore, err := tvm.NextMintDigest(addrX, 1, source.Mining)
	require.NoError(err)

	require.NoError(tvm.Shutdown(context.Background()))

	// Same genesis over the same database: balances, segments, counters
	// and proposals survive; allocations are not applied twice.
	genesisBytes, err := BuildGenesis(&Genesis{
		NetworkID: 1,
		Admin:     tvm.admin,
		Authorities: []GenesisAuthority{
			{Channel: source.Mining, Address: tvm.keys[source.Mining].Address()},
			{Channel: source.Rewards, Address: tvm.keys[source.Rewards].Address()},
			{Channel: source.P2P, Address: tvm.keys[source.P2P].Address()},
		},
		Allocations: []GenesisAllocation{
			{Address: ids.ShortID{'l'}, Amount: 777, Channel: source.Other},
		},
	})
	require.NoError(err)

	restarted := &VM{}
	require.NoError(restarted.Initialize(context.Background(), tvm.db, genesisBytes, nil, nil))

	require.Equal(uint64(600_000), restarted.Balance(addrX))
	require.Equal(uint64(400_000), restarted.Balance(addrZ))
	require.Equal(uint64(777), restarted.Balance(ids.ShortID{'l'}))
	require.Zero(restarted.ValidBalance(ids.ShortID{'l'}))
	require.Equal(uint64(1_000_777), restarted.MintedSupply())
	require.Equal(segmentsBefore, restarted.Segments(addrZ))

	digestAfter, err := restarted.NextMintDigest(addrX, 1, source.Mining)
	require.NoError(err)
	require.Equal(digestBefore, digestAfter)

	restarted.SetClockTime(time.Unix(1_700_000_000, 0))
	outcome, err := restarted.GovernanceVote(proposalID, voter, true)
	require.NoError(err)
	require.Equal(governance.Passed, outcome.Status)
}

func TestContagionEndToEnd(t *testing.T) {
	require := require.New(t)
	tvm := newTestVM(t, testGenesisOpts{
		allocations: []GenesisAllocation{
			{Address: ids.ShortID{'a'}, Amount: 1_000, Channel: source.Other},
		},
	})

	addrA := ids.ShortID{'a'}
	addrB := ids.ShortID{'b'}
	addrC := ids.ShortID{'c'}
	tvm.mint(t, addrA, 100, source.Mining)

	require.NoError(tvm.Transfer(addrA, addrB, 600))
	require.NoError(tvm.Transfer(addrB, addrC, 600))

	require.Equal(uint64(100), tvm.ValidBalance(addrC))
	require.Equal(uint64(600), tvm.Balance(addrC))
	require.Equal(
		[]bool{false, false, false},
		tvm.BatchVerify([]ids.ShortID{addrA, addrB, addrC}),
	)

	// Valid value is conserved across every hop.
	total := tvm.ValidBalance(addrA) + tvm.ValidBalance(addrB) + tvm.ValidBalance(addrC)
	require.Equal(uint64(100), total)
}

func TestSupplyCapEnforced(t *testing.T) {
	require := require.New(t)

	configBytes, err := json.Marshal(config.Config{
		PegTargetMicroUSD: peg.DefaultTargetMicroUSD,
		TotalSupply:       1_000,
		PegPolicy:         config.PolicyProportional,
		ProposalTTL:       time.Hour,
	})
	require.NoError(err)
	tvm := newTestVM(t, testGenesisOpts{configBytes: configBytes})

	addr := ids.ShortID{'a'}
	tvm.mint(t, addr, 900, source.Mining)

	digest, err := tvm.NextMintDigest(addr, 200, source.Mining)
	require.NoError(err)
	sig, err := tvm.keys[source.Mining].SignHash(digest)
	require.NoError(err)
	_, err = tvm.Mint(addr, 200, source.Mining, &source.Proof{Signature: sig})
	require.ErrorIs(err, ledger.ErrSupplyExceeded)
	require.Equal(uint64(900), tvm.MintedSupply())
}
