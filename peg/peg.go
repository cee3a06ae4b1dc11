// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package peg computes the certified USD-equivalent value of a holding,
// counting only balance with unbroken valid provenance.
package peg

import (
	"errors"
	"math/big"

	"github.com/luxfi/ids"
)

const (
	// DefaultTargetMicroUSD is the peg target, $314,159.00 in micro-USD.
	DefaultTargetMicroUSD = 314_159_000_000

	// DefaultTotalSupply is the fixed cap on issued units.
	DefaultTotalSupply = 100_000_000_000
)

var ErrNoValidHoldings = errors.New("no valid-provenance holdings")

// CertifiedValue is the result of a peg verification: the valid balance the
// certification covers and its micro-USD value under the active policy.
type CertifiedValue struct {
	ValidBalance uint64   `json:"validBalance"`
	MicroUSD     *big.Int `json:"microUsd"`
}

// Policy maps a valid balance to its certified micro-USD value. The exact
// peg formula is a deployment decision, not a hidden constant.
type Policy interface {
	CertifiedValue(validBalance uint64) *big.Int
}

// Proportional applies the peg target pro rata: value = target * balance /
// totalSupply. This is the default policy.
type Proportional struct {
	TargetMicroUSD uint64
	TotalSupply    uint64
}

func (p Proportional) CertifiedValue(validBalance uint64) *big.Int {
	v := new(big.Int).Mul(
		new(big.Int).SetUint64(p.TargetMicroUSD),
		new(big.Int).SetUint64(validBalance),
	)
	return v.Div(v, new(big.Int).SetUint64(p.TotalSupply))
}

// FlatPerUnit values every valid unit at the full peg target, the literal
// "per coin" reading: value = target * balance.
type FlatPerUnit struct {
	TargetMicroUSD uint64
}

func (p FlatPerUnit) CertifiedValue(validBalance uint64) *big.Int {
	return new(big.Int).Mul(
		new(big.Int).SetUint64(p.TargetMicroUSD),
		new(big.Int).SetUint64(validBalance),
	)
}

// BalanceSource supplies valid-provenance balances; the provenance ledger
// implements it.
type BalanceSource interface {
	ValidBalance(addr ids.ShortID) uint64
}

// Certifier is read-only: it never mutates segments and reflects exactly
// the transfers that have committed.
type Certifier struct {
	policy   Policy
	balances BalanceSource
}

func NewCertifier(policy Policy, balances BalanceSource) *Certifier {
	return &Certifier{
		policy:   policy,
		balances: balances,
	}
}

// VerifyPeg certifies the holder's valid balance under the active policy.
// A holder with zero valid balance has nothing to certify, no matter how
// much invalid-provenance balance it carries.
func (c *Certifier) VerifyPeg(holder ids.ShortID) (*CertifiedValue, error) {
	validBalance := c.balances.ValidBalance(holder)
	if validBalance == 0 {
		return nil, ErrNoValidHoldings
	}
	return &CertifiedValue{
		ValidBalance: validBalance,
		MicroUSD:     c.policy.CertifiedValue(validBalance),
	}, nil
}
