// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package source

import (
	"testing"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/pegvm/utils/hashing"
)

func TestChannelApproved(t *testing.T) {
	require := require.New(t)

	require.True(Mining.Approved())
	require.True(Rewards.Approved())
	require.True(P2P.Approved())
	require.False(Other.Approved())
	require.False(Channel(42).Approved())
}

func TestParseChannel(t *testing.T) {
	require := require.New(t)

	for _, c := range []Channel{Other, Mining, Rewards, P2P} {
		parsed, err := ParseChannel(c.String())
		require.NoError(err)
		require.Equal(c, parsed)
	}

	_, err := ParseChannel("donations")
	require.Error(err)
}

func TestValidate(t *testing.T) {
	require := require.New(t)

	miningKey, err := secp256k1.NewPrivateKey()
	require.NoError(err)
	rewardsKey, err := secp256k1.NewPrivateKey()
	require.NoError(err)

	validator := NewValidator(Authorities{
		Mining:  miningKey.Address(),
		Rewards: rewardsKey.Address(),
	})

	msgHash := hashing.ComputeHash256([]byte("mint intent"))
	sig, err := miningKey.SignHash(msgHash)
	require.NoError(err)

	require.NoError(validator.Validate(Mining, &Proof{Signature: sig}, msgHash))

	// Same proof under a different channel must fail.
	err = validator.Validate(Rewards, &Proof{Signature: sig}, msgHash)
	require.ErrorIs(err, ErrInvalidSource)

	// Unapproved channels fail before any signature work.
	err = validator.Validate(Other, &Proof{Signature: sig}, msgHash)
	require.ErrorIs(err, ErrInvalidSource)

	// No authority registered for the channel.
	err = validator.Validate(P2P, &Proof{Signature: sig}, msgHash)
	require.ErrorIs(err, ErrInvalidSource)

	// Missing or malformed proofs.
	err = validator.Validate(Mining, nil, msgHash)
	require.ErrorIs(err, ErrInvalidSource)
	err = validator.Validate(Mining, &Proof{Signature: sig[1:]}, msgHash)
	require.ErrorIs(err, ErrInvalidSource)

	// Signature over a different digest.
	otherHash := hashing.ComputeHash256([]byte("other intent"))
	err = validator.Validate(Mining, &Proof{Signature: sig}, otherHash)
	require.ErrorIs(err, ErrInvalidSource)
}

func TestAuthority(t *testing.T) {
	require := require.New(t)

	addr := ids.ShortID{1, 2, 3}
	validator := NewValidator(Authorities{Mining: addr})

	got, err := validator.Authority(Mining)
	require.NoError(err)
	require.Equal(addr, got)

	_, err = validator.Authority(P2P)
	require.ErrorIs(err, ErrNoAuthority)
}
