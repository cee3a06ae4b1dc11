// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sigverify wraps secp256k1 signature recovery so the rest of the
// VM can check a signer against an expected address without holding any
// cryptographic state.
package sigverify

import (
	"errors"

	"github.com/luxfi/crypto/secp256k1"
	"github.com/luxfi/ids"
)

// SignatureLen is the length of a recoverable secp256k1 signature.
const SignatureLen = secp256k1.SignatureLen

var ErrMalformedSignature = errors.New("malformed signature")

// RecoverAddress returns the address of the key that produced [sig] over
// the 32-byte [msgHash].
func RecoverAddress(msgHash []byte, sig []byte) (ids.ShortID, error) {
	if len(sig) != SignatureLen {
		return ids.ShortEmpty, ErrMalformedSignature
	}
	pk, err := secp256k1.RecoverPublicKeyFromHash(msgHash, sig)
	if err != nil {
		return ids.ShortEmpty, err
	}
	return pk.Address(), nil
}

// Verify reports whether [sig] over [msgHash] was produced by the key
// owning [addr].
func Verify(addr ids.ShortID, msgHash []byte, sig []byte) bool {
	recovered, err := RecoverAddress(msgHash, sig)
	return err == nil && recovered == addr
}
