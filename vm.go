// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pegvm implements a provenance-gated token ledger: units carry a
// record of the issuance channel that created them, value only attaches to
// units whose origin traces to an approved channel, and governance suffrage
// requires valid-provenance holdings.
//
// The VM is the single gateway external callers go through. Every mutating
// operation is one atomic state transition: the engines stage their writes
// on a versioned database and the gateway commits on success or aborts on
// any failure, so a rejected call leaves the ledger exactly as it was.
package pegvm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/database"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/version"

	"github.com/luxfi/pegvm/api"
	"github.com/luxfi/pegvm/config"
	"github.com/luxfi/pegvm/governance"
	"github.com/luxfi/pegvm/ledger"
	"github.com/luxfi/pegvm/metrics"
	"github.com/luxfi/pegvm/peg"
	"github.com/luxfi/pegvm/source"
	"github.com/luxfi/pegvm/state"
	"github.com/luxfi/pegvm/utils/timer/mockable"
)

const Name = "pegvm"

// Version is the VM's semantic version.
var Version = &version.Semantic{
	Major: 1,
	Minor: 0,
	Patch: 0,
}

var (
	errNotInitialized = errors.New("VM not initialized")
	errShutdown       = errors.New("VM is shutting down")
	errNoGenesis      = errors.New("genesis bytes required")
)

// VM is the ledger transaction gateway. The underlying runtime serializes
// transactions, so the lock only guards API reads against mutating calls;
// no operation blocks or suspends internally.
type VM struct {
	config.Config

	log  log.Logger
	lock sync.RWMutex

	baseDB database.Database
	db     *versiondb.Database

	clock   mockable.Clock
	metrics metrics.Metrics

	state      *state.State
	validator  *source.Validator
	ledger     *ledger.Ledger
	certifier  *peg.Certifier
	governance *governance.Engine

	admin ids.ShortID

	initialized bool
	shutdown    bool
}

// Initialize sets up the VM with its storage handle, genesis and config.
// Counters start at zero on first deploy; genesis allocations are applied
// exactly once, no matter how often the VM restarts over the same database.
func (vm *VM) Initialize(
	ctx context.Context,
	db database.Database,
	genesisBytes []byte,
	configBytes []byte,
	registerer metric.Registerer,
) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	cfg, err := config.ParseConfig(configBytes)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	vm.Config = cfg

	if len(genesisBytes) == 0 {
		return errNoGenesis
	}
	genesis, err := ParseGenesis(genesisBytes)
	if err != nil {
		return err
	}

	if vm.log == nil {
		vm.log = log.NoLog{}
	}

	if registerer != nil {
		vm.metrics, err = metrics.New(registerer)
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	} else {
		vm.metrics = metrics.Noop{}
	}

	vm.baseDB = db
	vm.db = versiondb.New(db)
	vm.state = state.New(vm.db)
	if err := vm.state.Load(); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	vm.admin = genesis.Admin
	vm.validator = source.NewValidator(genesis.SourceAuthorities())
	vm.ledger = ledger.New(vm.state, vm.validator, cfg.TotalSupply)

	var policy peg.Policy
	switch cfg.PegPolicy {
	case config.PolicyFlat:
		policy = peg.FlatPerUnit{TargetMicroUSD: cfg.PegTargetMicroUSD}
	default:
		policy = peg.Proportional{
			TargetMicroUSD: cfg.PegTargetMicroUSD,
			TotalSupply:    cfg.TotalSupply,
		}
	}
	vm.certifier = peg.NewCertifier(policy, vm.ledger)

	vm.governance = governance.New(
		genesis.Admin,
		vm.state.Proposals(),
		vm.ledger.ValidBalance,
		vm.state,
		&vm.clock,
	)

	if err := vm.applyGenesisAllocations(genesis); err != nil {
		vm.db.Abort()
		return err
	}

	vm.initialized = true
	vm.log.Info("peg ledger VM initialized",
		"networkID", genesis.NetworkID,
		"admin", genesis.Admin,
		"totalSupply", cfg.TotalSupply,
		"pegPolicy", cfg.PegPolicy,
		"mintedSupply", vm.ledger.MintedSupply(),
	)
	return nil
}

func (vm *VM) applyGenesisAllocations(genesis *Genesis) error {
	initialized, err := vm.state.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	for _, alloc := range genesis.Allocations {
		if _, err := vm.ledger.ImportAllocation(alloc.Address, alloc.Amount, alloc.Channel); err != nil {
			return fmt.Errorf("failed to apply genesis allocation to %s: %w", alloc.Address, err)
		}
		if !alloc.Channel.Approved() {
			vm.log.Warn("genesis allocation imported with invalid provenance",
				"address", alloc.Address,
				"amount", alloc.Amount,
				"channel", alloc.Channel,
			)
		}
	}
	if err := vm.state.SetInitialized(); err != nil {
		return err
	}
	return vm.db.Commit()
}

// checkRunning must be called with the lock held.
func (vm *VM) checkRunning() error {
	if !vm.initialized {
		return errNotInitialized
	}
	if vm.shutdown {
		return errShutdown
	}
	return nil
}

// commit makes the staged transition durable, or discards every staged
// write if the engine rejected the operation.
func (vm *VM) commit(op string, err error) error {
	if err != nil {
		vm.db.Abort()
		vm.metrics.MarkRejected(op)
		return err
	}
	if err := vm.db.Commit(); err != nil {
		vm.db.Abort()
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}
	vm.metrics.MarkAccepted(op)
	return nil
}

// Mint issues [amount] units to [to] through [channel], authorized by the
// channel authority's signature in [proof]. Returns the new segment's
// sequence number.
func (vm *VM) Mint(to ids.ShortID, amount uint64, channel source.Channel, proof *source.Proof) (uint64, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if err := vm.checkRunning(); err != nil {
		return 0, err
	}

	seq, err := vm.ledger.Mint(to, amount, channel, proof)
	if err := vm.commit("mint", err); err != nil {
		vm.log.Warn("mint rejected",
			"to", to,
			"amount", amount,
			"channel", channel,
			"error", err,
		)
		return 0, err
	}

	vm.metrics.ObserveMintedSupply(vm.ledger.MintedSupply())
	vm.log.Info("minted",
		"to", to,
		"amount", amount,
		"channel", channel,
		"segment", seq,
	)
	return seq, nil
}

// Transfer moves [amount] units between accounts, preserving provenance.
func (vm *VM) Transfer(from, to ids.ShortID, amount uint64) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if err := vm.checkRunning(); err != nil {
		return err
	}

	err := vm.ledger.Transfer(from, to, amount)
	if err := vm.commit("transfer", err); err != nil {
		vm.log.Warn("transfer rejected",
			"from", from,
			"to", to,
			"amount", amount,
			"error", err,
		)
		return err
	}

	vm.log.Info("transferred", "from", from, "to", to, "amount", amount)
	return nil
}

// VerifyPeg certifies the peg value of the holder's valid-provenance
// balance. Read-only: it observes only committed state.
func (vm *VM) VerifyPeg(holder ids.ShortID) (*peg.CertifiedValue, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	if err := vm.checkRunning(); err != nil {
		return nil, err
	}
	return vm.certifier.VerifyPeg(holder)
}

// CreateProposal opens a governance proposal. Only the genesis admin may
// propose.
func (vm *VM) CreateProposal(
	proposer ids.ShortID,
	action string,
	eligible []ids.ShortID,
	threshold uint32,
) (ids.ID, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if err := vm.checkRunning(); err != nil {
		return ids.Empty, err
	}

	proposalID, err := vm.governance.Create(proposer, action, eligible, threshold, vm.Config.ProposalTTL)
	if err := vm.commit("create_proposal", err); err != nil {
		vm.log.Warn("proposal rejected", "proposer", proposer, "action", action, "error", err)
		return ids.Empty, err
	}

	vm.log.Info("proposal created",
		"proposalID", proposalID,
		"action", action,
		"threshold", threshold,
		"eligible", len(eligible),
	)
	return proposalID, nil
}

// GovernanceVote records a vote and returns the proposal state after
// re-tally. Voting requires valid-provenance holdings.
func (vm *VM) GovernanceVote(proposalID ids.ID, voter ids.ShortID, approve bool) (*governance.VoteOutcome, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if err := vm.checkRunning(); err != nil {
		return nil, err
	}

	outcome, err := vm.governance.Vote(proposalID, voter, approve)
	if err := vm.commit("vote", err); err != nil {
		vm.log.Warn("vote rejected", "proposalID", proposalID, "voter", voter, "error", err)
		return nil, err
	}

	if outcome.Status == governance.Passed {
		vm.log.Info("proposal passed, emitting action",
			"proposalID", proposalID,
			"action", outcome.Action,
		)
	}
	return outcome, nil
}

// ExpireProposal transitions an open proposal past its deadline to Expired.
func (vm *VM) ExpireProposal(proposalID ids.ID) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if err := vm.checkRunning(); err != nil {
		return err
	}
	return vm.commit("expire_proposal", vm.governance.Expire(proposalID))
}

// GetProposal returns a proposal by ID.
func (vm *VM) GetProposal(proposalID ids.ID) (*governance.Proposal, error) {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if err := vm.checkRunning(); err != nil {
		return nil, err
	}
	// A read may lazily expire the proposal, which is a state transition.
	p, err := vm.governance.Get(proposalID)
	if err != nil {
		vm.db.Abort()
		return nil, err
	}
	if err := vm.db.Commit(); err != nil {
		vm.db.Abort()
		return nil, err
	}
	return p, nil
}

// VerifyEcosystemEntry reports whether the account's holdings are entirely
// valid-provenance.
func (vm *VM) VerifyEcosystemEntry(addr ids.ShortID) bool {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	return vm.initialized && vm.ledger.VerifyEcosystemEntry(addr)
}

// BatchVerify runs the ecosystem-entry check over several accounts.
func (vm *VM) BatchVerify(addrs []ids.ShortID) []bool {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	if !vm.initialized {
		return make([]bool, len(addrs))
	}
	return vm.ledger.BatchVerify(addrs)
}

// Balance returns the account's total holdings, valid or not.
func (vm *VM) Balance(addr ids.ShortID) uint64 {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	if !vm.initialized {
		return 0
	}
	return vm.ledger.Balance(addr)
}

// ValidBalance returns the account's valid-provenance holdings.
func (vm *VM) ValidBalance(addr ids.ShortID) uint64 {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	if !vm.initialized {
		return 0
	}
	return vm.ledger.ValidBalance(addr)
}

// Segments returns the account's provenance segments, oldest-first.
func (vm *VM) Segments(addr ids.ShortID) []ledger.Segment {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	if !vm.initialized {
		return nil
	}
	return vm.ledger.Segments(addr)
}

// MintedSupply returns the units minted so far.
func (vm *VM) MintedSupply() uint64 {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	if !vm.initialized {
		return 0
	}
	return vm.ledger.MintedSupply()
}

// NextMintDigest returns the digest a channel authority must sign to
// authorize the next mint with these parameters.
func (vm *VM) NextMintDigest(to ids.ShortID, amount uint64, channel source.Channel) ([]byte, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()
	if err := vm.checkRunning(); err != nil {
		return nil, err
	}
	return vm.ledger.NextMintDigest(to, amount, channel), nil
}

// CreateHandlers exposes the gateway as JSON-RPC handlers.
func (vm *VM) CreateHandlers(context.Context) (map[string]http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	if err := server.RegisterService(api.NewService(vm), "pegledger"); err != nil {
		return nil, fmt.Errorf("failed to register ledger service: %w", err)
	}
	return map[string]http.Handler{
		"": server,
	}, nil
}

// HealthCheck reports liveness and headline ledger figures.
func (vm *VM) HealthCheck(context.Context) (interface{}, error) {
	vm.lock.RLock()
	defer vm.lock.RUnlock()

	healthy := vm.initialized && !vm.shutdown
	report := map[string]interface{}{
		"healthy": healthy,
	}
	if vm.initialized {
		report["mintedSupply"] = vm.ledger.MintedSupply()
		report["totalSupply"] = vm.ledger.TotalSupply()
		report["accounts"] = vm.state.NumAccounts()
		report["proposals"] = vm.state.NumProposals()
	}
	if !healthy {
		return report, errNotInitialized
	}
	return report, nil
}

// Version returns the VM's semantic version.
func (vm *VM) Version(context.Context) (string, error) {
	return Version.String(), nil
}

// Shutdown releases the VM's storage. Further calls are rejected.
func (vm *VM) Shutdown(context.Context) error {
	vm.lock.Lock()
	defer vm.lock.Unlock()

	if vm.shutdown {
		return nil
	}
	vm.shutdown = true

	if vm.db != nil {
		if err := vm.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	vm.log.Info("peg ledger VM shutdown complete")
	return nil
}

// SetClockTime pins the VM clock, for deterministic proposal expiry.
func (vm *VM) SetClockTime(t time.Time) {
	vm.clock.Set(t)
}
