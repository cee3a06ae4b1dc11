// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pegvm

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/pegvm/source"
)

var (
	errNoAdmin             = errors.New("genesis has no governance admin")
	errMissingAuthority    = errors.New("genesis missing channel authority")
	errDuplicateAuthority  = errors.New("genesis has duplicate channel authority")
	errZeroAllocation      = errors.New("genesis allocation has zero amount")
	errEmptyAllocationAddr = errors.New("genesis allocation has empty address")
)

// Genesis is the deploy-time state of the ledger: the authority key for
// each approved issuance channel, the governance admin, and any balances
// imported from before the ledger existed. Imported balances keep their
// declared channel; an unapproved channel imports as invalid provenance.
type Genesis struct {
	NetworkID   uint32              `serialize:"true" json:"networkID"`
	Admin       ids.ShortID         `serialize:"true" json:"admin"`
	Authorities []GenesisAuthority  `serialize:"true" json:"authorities"`
	Allocations []GenesisAllocation `serialize:"true" json:"allocations"`
}

// GenesisAuthority binds an approved channel to the address allowed to
// authorize issuance through it.
type GenesisAuthority struct {
	Channel source.Channel `serialize:"true" json:"channel"`
	Address ids.ShortID    `serialize:"true" json:"address"`
}

// GenesisAllocation credits an address at deploy time.
type GenesisAllocation struct {
	Address ids.ShortID    `serialize:"true" json:"address"`
	Amount  uint64         `serialize:"true" json:"amount"`
	Channel source.Channel `serialize:"true" json:"channel"`
}

// Verify checks the genesis is usable: an admin, exactly one authority per
// approved channel, and well-formed allocations.
func (g *Genesis) Verify() error {
	if g.Admin == ids.ShortEmpty {
		return errNoAdmin
	}
	seen := make(map[source.Channel]bool, len(g.Authorities))
	for _, authority := range g.Authorities {
		if !authority.Channel.Approved() {
			return fmt.Errorf("authority for unapproved channel %s", authority.Channel)
		}
		if seen[authority.Channel] {
			return fmt.Errorf("%w: %s", errDuplicateAuthority, authority.Channel)
		}
		seen[authority.Channel] = true
	}
	for _, c := range []source.Channel{source.Mining, source.Rewards, source.P2P} {
		if !seen[c] {
			return fmt.Errorf("%w: %s", errMissingAuthority, c)
		}
	}
	for _, alloc := range g.Allocations {
		if alloc.Amount == 0 {
			return errZeroAllocation
		}
		if alloc.Address == ids.ShortEmpty {
			return errEmptyAllocationAddr
		}
	}
	return nil
}

// SourceAuthorities returns the authority registry the source validator
// enforces.
func (g *Genesis) SourceAuthorities() source.Authorities {
	authorities := make(source.Authorities, len(g.Authorities))
	for _, authority := range g.Authorities {
		authorities[authority.Channel] = authority.Address
	}
	return authorities
}

// ParseGenesis decodes and verifies genesis bytes.
func ParseGenesis(bytes []byte) (*Genesis, error) {
	genesis := &Genesis{}
	if _, err := Codec.Unmarshal(bytes, genesis); err != nil {
		return nil, fmt.Errorf("failed to parse genesis: %w", err)
	}
	if err := genesis.Verify(); err != nil {
		return nil, err
	}
	return genesis, nil
}

// BuildGenesis encodes a genesis after verifying it.
func BuildGenesis(genesis *Genesis) ([]byte, error) {
	if err := genesis.Verify(); err != nil {
		return nil, err
	}
	return Codec.Marshal(CodecVersion, genesis)
}
