// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"errors"

	"go.uber.org/zap"
)

var (
	ErrProofNotFound   = errors.New("finalization proof not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

type Logger interface {
	// Log that a fatal error has occurred. The program should likely exit soon
	// after this is called
	Fatal(msg string, fields ...zap.Field)
	// Log that an error has occurred. The program should be able to recover
	// from this error
	Error(msg string, fields ...zap.Field)
	// Log that an event has occurred that may indicate a future error or
	// vulnerability
	Warn(msg string, fields ...zap.Field)
	// Log an event that may be useful for a user to see to measure the progress
	// of the protocol
	Info(msg string, fields ...zap.Field)
	// Log an event that may be useful for understanding the order of the
	// execution of the protocol
	Trace(msg string, fields ...zap.Field)
	// Log an event that may be useful for a programmer to see when debuging the
	// execution of the protocol
	Debug(msg string, fields ...zap.Field)
	// Log extremely detailed events that can be useful for inspecting every
	// aspect of the program
	Verbo(msg string, fields ...zap.Field)
}

// Signer signs finalization messages on behalf of the local voter.
type Signer interface {
	PublicKey() VotingKey
	// Sign returns a signature over buff bound to the given step.
	// Signing may fail once the keys for a step have been consumed.
	Sign(step StepIdentifier, buff []byte) (Signature, error)
}

type SignatureVerifier interface {
	// Verify returns an error if signature was not produced by signature.Signer
	// over buff for the given step.
	Verify(signature Signature, step StepIdentifier, buff []byte) error
}

// WeightOracle exposes the voting weight of every eligible voter of an epoch.
type WeightOracle interface {
	// Lookup returns the weight of key in epoch, or zero when key cannot vote.
	Lookup(epoch uint32, key VotingKey) uint64
	// TotalWeight returns the sum of the weights of all eligible voters of epoch.
	TotalWeight(epoch uint32) uint64
}

type BlockStorage interface {
	ChainHeight() uint64
	// LoadHashesFrom returns up to maxHashes consecutive block hashes starting at height.
	LoadHashesFrom(height uint64, maxHashes uint64) ([]Hash, error)
}

// FinalizationStatistics describes the most recently finalized block.
type FinalizationStatistics struct {
	Round  FinalizationRound
	Height uint64
	Hash   Hash
}

type ProofStorage interface {
	Statistics() FinalizationStatistics
	// LoadProof returns the last proof of epoch, or ErrProofNotFound.
	LoadProof(epoch uint32) (*FinalizationProof, error)
	// LoadProofAtHeight returns the proof finalizing height, or ErrProofNotFound.
	LoadProofAtHeight(height uint64) (*FinalizationProof, error)
	SaveProof(proof *FinalizationProof) error
}

// Subscriber is notified about every newly finalized block.
type Subscriber interface {
	NotifyFinalizedBlock(round FinalizationRound, height uint64, hash Hash)
}

type SubscriberFunc func(round FinalizationRound, height uint64, hash Hash)

func (f SubscriberFunc) NotifyFinalizedBlock(round FinalizationRound, height uint64, hash Hash) {
	f(round, height, hash)
}

// MessageSink receives messages produced by the local voter.
type MessageSink func(msg *Message)
