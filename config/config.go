// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	PolicyProportional = "proportional"
	PolicyFlat         = "flat"
)

var (
	ErrInvalidSupply    = errors.New("total supply must be greater than zero")
	ErrInvalidPegTarget = errors.New("peg target must be greater than zero")
	ErrInvalidPolicy    = errors.New("unknown peg policy")
	ErrInvalidTTL       = errors.New("proposal ttl must be greater than zero")
)

// Config holds the deployment parameters of the peg ledger VM. Identity
// data (channel authorities, governance admin, initial allocations) lives
// in genesis; this is policy only.
type Config struct {
	// PegTargetMicroUSD is the peg reference value in micro-USD.
	// Default: $314,159.00.
	PegTargetMicroUSD uint64 `json:"pegTargetMicroUsd"`

	// TotalSupply is the hard cap on minted units.
	TotalSupply uint64 `json:"totalSupply"`

	// PegPolicy selects how certified value is derived from a valid
	// balance: "proportional" (target * balance / supply) or "flat"
	// (target per unit).
	PegPolicy string `json:"pegPolicy"`

	// ProposalTTL is how long a governance proposal stays open before it
	// can be expired.
	ProposalTTL time.Duration `json:"proposalTtl"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() Config {
	return Config{
		PegTargetMicroUSD: 314_159_000_000,
		TotalSupply:       100_000_000_000,
		PegPolicy:         PolicyProportional,
		ProposalTTL:       7 * 24 * time.Hour,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.TotalSupply == 0 {
		return ErrInvalidSupply
	}
	if c.PegTargetMicroUSD == 0 {
		return ErrInvalidPegTarget
	}
	switch c.PegPolicy {
	case PolicyProportional, PolicyFlat:
	default:
		return ErrInvalidPolicy
	}
	if c.ProposalTTL <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

// ParseConfig parses configuration from JSON bytes, falling back to
// defaults for anything unset.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
