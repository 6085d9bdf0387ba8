// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

const (
	hashLen          = 32
	votingKeyLen     = 32
	signatureLen     = 64
	fullSignatureLen = votingKeyLen + signatureLen
)

// Hash is a 256-bit block hash.
type Hash [hashLen]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// VotingKey is the public key a voter signs finalization messages with.
type VotingKey [votingKeyLen]byte

func (k VotingKey) Equals(other VotingKey) bool {
	return bytes.Equal(k[:], other[:])
}

func (k VotingKey) String() string {
	return fmt.Sprintf("%x...", k[:8])
}

// Signature binds a signature value to the key that produced it.
type Signature struct {
	Signer VotingKey
	Value  [signatureLen]byte
}

// ShortHash is the 4-byte prefix of a message hash used for set reconciliation.
type ShortHash uint32
