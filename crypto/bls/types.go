// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package bls adapts block/committee signing to the committee-signature
// API github.com/luxfi/crypto/bls exposes across the rest of the fleet
// (validator pubkeys, warp-message signing, BFT vote aggregation): a
// secret key signs a digest, a public key verifies it, and signatures
// support pairing-based aggregation.
package bls

import (
	lbls "github.com/luxfi/crypto/bls"
)

// PublicKey identifies a committee member for signature verification.
type PublicKey struct {
	inner *lbls.PublicKey
}

// Bytes returns the public key's compressed wire form.
func (pk *PublicKey) Bytes() []byte {
	if pk == nil || pk.inner == nil {
		return nil
	}
	return lbls.PublicKeyToCompressedBytes(pk.inner)
}

// PublicKeyFromBytes decompresses a public key previously produced by
// Bytes. A malformed input yields a PublicKey that verifies nothing.
func PublicKeyFromBytes(b []byte) *PublicKey {
	pk, err := lbls.PublicKeyFromCompressedBytes(b)
	if err != nil {
		return &PublicKey{}
	}
	return &PublicKey{inner: pk}
}

// SecretKey signs block digests on behalf of one authority.
type SecretKey struct {
	inner *lbls.SecretKey
}

// PublicKey returns the public key corresponding to sk.
func (sk *SecretKey) PublicKey() *PublicKey {
	return &PublicKey{inner: sk.inner.PublicKey()}
}

// Sign produces a signature over msg. A signing failure (only possible if
// the key itself is invalid) yields a Signature that verifies against
// nothing, matching the fail-closed behavior the caller already checks
// for via Verify.
func (sk *SecretKey) Sign(msg []byte) *Signature {
	sig, err := sk.inner.Sign(msg)
	if err != nil {
		return &Signature{}
	}
	return &Signature{inner: sig}
}

// GenerateKey generates a new committee signing key.
func GenerateKey() (*SecretKey, error) {
	sk, err := lbls.NewSecretKey()
	if err != nil {
		return nil, err
	}
	return &SecretKey{inner: sk}, nil
}

// Signature is a signed block digest.
type Signature struct {
	inner *lbls.Signature
}

// Bytes returns the signature's wire form.
func (sig *Signature) Bytes() []byte {
	if sig == nil || sig.inner == nil {
		return nil
	}
	return lbls.SignatureToBytes(sig.inner)
}

// SignatureFromBytes parses a signature previously produced by Bytes. A
// malformed input yields a Signature that fails every Verify call.
func SignatureFromBytes(b []byte) *Signature {
	sig, err := lbls.SignatureFromBytes(b)
	if err != nil {
		return &Signature{}
	}
	return &Signature{inner: sig}
}

// Verify reports whether sig is a valid signature by pk over msg.
func (sig *Signature) Verify(pk *PublicKey, msg []byte) bool {
	if sig == nil || sig.inner == nil || pk == nil || pk.inner == nil {
		return false
	}
	return lbls.Verify(pk.inner, sig.inner, msg)
}
