// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package source defines the approved issuance channels and validates that
// a claimed channel is backed by a signature from that channel's authority.
package source

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"

	"github.com/luxfi/pegvm/utils/sigverify"
)

var (
	ErrInvalidSource = errors.New("invalid issuance source")
	ErrNoAuthority   = errors.New("no authority registered for channel")
)

// Channel identifies the category of event that created token units. Only
// Mining, Rewards and P2P are approved; anything else is worthless by
// definition. The zero value is Other so an unset channel never validates.
type Channel uint8

const (
	Other Channel = iota
	Mining
	Rewards
	P2P
)

func (c Channel) String() string {
	switch c {
	case Mining:
		return "mining"
	case Rewards:
		return "rewards"
	case P2P:
		return "p2p"
	default:
		return "other"
	}
}

// Approved reports whether c is one of the approved issuance channels.
func (c Channel) Approved() bool {
	switch c {
	case Mining, Rewards, P2P:
		return true
	default:
		return false
	}
}

// ParseChannel converts a channel name to its Channel value.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "mining":
		return Mining, nil
	case "rewards":
		return Rewards, nil
	case "p2p":
		return P2P, nil
	case "other":
		return Other, nil
	default:
		return Other, fmt.Errorf("unknown channel %q", s)
	}
}

// Proof carries the authority signature authorizing a mint. The signature
// is a recoverable secp256k1 signature over the mint digest.
type Proof struct {
	Signature []byte `serialize:"true" json:"signature"`
}

// Authorities maps each approved channel to the address of the key allowed
// to authorize issuance through it.
type Authorities map[Channel]ids.ShortID

// Validator is a pure decision function: it mutates nothing and is safe to
// call concurrently.
type Validator struct {
	authorities Authorities
}

func NewValidator(authorities Authorities) *Validator {
	return &Validator{authorities: authorities}
}

// Authority returns the registered authority address for a channel.
func (v *Validator) Authority(c Channel) (ids.ShortID, error) {
	addr, ok := v.authorities[c]
	if !ok {
		return ids.ShortEmpty, fmt.Errorf("%w: %s", ErrNoAuthority, c)
	}
	return addr, nil
}

// Validate accepts only approved channels whose proof carries a signature
// over [msgHash] from the channel's authority. A valid-looking channel with
// a bad proof fails exactly like a disallowed channel.
func (v *Validator) Validate(c Channel, proof *Proof, msgHash []byte) error {
	if !c.Approved() {
		return fmt.Errorf("%w: channel %s not approved", ErrInvalidSource, c)
	}
	if proof == nil || len(proof.Signature) != sigverify.SignatureLen {
		return fmt.Errorf("%w: missing or malformed proof", ErrInvalidSource)
	}
	authority, ok := v.authorities[c]
	if !ok {
		return fmt.Errorf("%w: %s has no registered authority", ErrInvalidSource, c)
	}
	if !sigverify.Verify(authority, msgHash, proof.Signature) {
		return fmt.Errorf("%w: proof not signed by %s authority", ErrInvalidSource, c)
	}
	return nil
}
