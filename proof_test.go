// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/luxfi/finality"
	"github.com/luxfi/finality/testutil"
)

type proofFixture struct {
	voters   []testutil.Voter
	chain    *testutil.Chain
	contexts FinalizationContextFactory
	round    FinalizationRound
	messages []*Message
}

// newProofFixture has three of four voters finalize block 10 in round (2, 1).
func newProofFixture(t *testing.T) *proofFixture {
	voters := testutil.MakeVoters(t, 400, 300, 200, 100)
	chain := testutil.NewChain(100)
	round := FinalizationRound{Epoch: 2, Point: 1}

	var messages []*Message
	messages = append(messages, prevotes(t, chain, voters[:3], round, 1, 10)...)
	messages = append(messages, prevotes(t, chain, voters[3:], round, 1, 5)...)
	messages = append(messages, precommits(t, chain, voters[:3], round, 10)...)

	return &proofFixture{
		voters:   voters,
		chain:    chain,
		contexts: NewFinalizationContextFactory(testConfig(), testutil.Oracle(voters)),
		round:    round,
		messages: messages,
	}
}

func (f *proofFixture) proof() *FinalizationProof {
	return CreateFinalizationProof(FinalizationStatistics{Round: f.round, Height: 10, Hash: f.chain.HashAt(10)}, f.messages)
}

func TestCreateFinalizationProof(t *testing.T) {
	f := newProofFixture(t)
	proof := f.proof()

	require.Equal(t, FinalizationProofVersion, proof.Version)
	require.Equal(t, FinalizationStatistics{Round: f.round, Height: 10, Hash: f.chain.HashAt(10)}, proof.Statistics())
	require.Len(t, proof.MessageGroups, 3)

	require.Equal(t, StagePrevote, proof.MessageGroups[0].Stage)
	require.Len(t, proof.MessageGroups[0].Hashes, 10)
	require.Len(t, proof.MessageGroups[0].Signatures, 3)
	require.Equal(t, SignatureSchemaEd25519, proof.MessageGroups[0].SignatureSchema)

	require.Equal(t, StagePrevote, proof.MessageGroups[1].Stage)
	require.Len(t, proof.MessageGroups[1].Signatures, 1)

	require.Equal(t, StagePrecommit, proof.MessageGroups[2].Stage)
	require.Equal(t, uint64(10), proof.MessageGroups[2].Height)
	require.Len(t, proof.MessageGroups[2].Signatures, 3)

	require.Equal(t, f.messages, proof.Messages())
}

func TestFinalizationProofBytes(t *testing.T) {
	f := newProofFixture(t)
	proof := f.proof()

	buff := proof.Bytes()
	require.Len(t, buff, proof.Size())

	var parsed FinalizationProof
	require.NoError(t, parsed.FromBytes(buff))
	require.Equal(t, proof, &parsed)

	empty := &FinalizationProof{Version: FinalizationProofVersion, Round: f.round, Height: 1}
	parsed = FinalizationProof{}
	require.NoError(t, parsed.FromBytes(empty.Bytes()))
	require.Equal(t, empty, &parsed)
}

func TestFinalizationProofMalformed(t *testing.T) {
	f := newProofFixture(t)
	buff := f.proof().Bytes()

	headerSize := f.proof().Size()
	for _, group := range f.proof().MessageGroups {
		headerSize -= 24 + 32*len(group.Hashes) + 96*len(group.Signatures)
	}

	for _, testCase := range []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{
			name:   "truncated header",
			mutate: func(b []byte) []byte { return b[:headerSize-1] },
		},
		{
			name: "size mismatch",
			mutate: func(b []byte) []byte {
				return b[:len(b)-1]
			},
		},
		{
			name: "partial signature",
			mutate: func(b []byte) []byte {
				groupSize := binary.BigEndian.Uint32(b[headerSize:])
				binary.BigEndian.PutUint32(b[headerSize:], groupSize-1)
				return b
			},
		},
		{
			name: "group overflows buffer",
			mutate: func(b []byte) []byte {
				binary.BigEndian.PutUint32(b[headerSize:], uint32(len(b)))
				return b
			},
		},
		{
			name: "unknown stage",
			mutate: func(b []byte) []byte {
				binary.BigEndian.PutUint32(b[headerSize+12:], 7)
				return b
			},
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			mutated := testCase.mutate(append([]byte(nil), buff...))
			var proof FinalizationProof
			require.ErrorIs(t, proof.FromBytes(mutated), ErrMalformedProof)
		})
	}
}

func TestVerifyFinalizationProof(t *testing.T) {
	f := newProofFixture(t)
	logger := testutil.MakeLogger(t)

	require.Equal(t, VerifyProofSuccess, VerifyFinalizationProof(logger, f.proof(), f.contexts(2), Ed25519Verifier{}))

	for _, testCase := range []struct {
		name     string
		mutate   func(*FinalizationProof)
		epoch    uint32
		expected VerifyProofResult
	}{
		{
			name:     "unknown version",
			mutate:   func(p *FinalizationProof) { p.Version = 2 },
			expected: VerifyProofFailureInvalidVersion,
		},
		{
			name:     "other epoch",
			mutate:   func(*FinalizationProof) {},
			epoch:    3,
			expected: VerifyProofFailureInvalidEpoch,
		},
		{
			name: "forged signature",
			mutate: func(p *FinalizationProof) {
				p.MessageGroups[2].Signatures[1].Value[5] ^= 0x01
			},
			expected: VerifyProofFailureInvalidMessage,
		},
		{
			name: "duplicated signature",
			mutate: func(p *FinalizationProof) {
				group := &p.MessageGroups[2]
				group.Signatures = append(group.Signatures, group.Signatures[0])
			},
			expected: VerifyProofFailureInvalidMessage,
		},
		{
			name: "not enough precommits",
			mutate: func(p *FinalizationProof) {
				group := &p.MessageGroups[2]
				group.Signatures = group.Signatures[1:]
			},
			expected: VerifyProofFailureNoPrecommit,
		},
		{
			name: "lower height",
			mutate: func(p *FinalizationProof) {
				p.Height = 9
				p.Hash = f.chain.HashAt(9)
			},
			expected: VerifyProofFailureInvalidHeight,
		},
		{
			name: "other hash",
			mutate: func(p *FinalizationProof) {
				p.Hash = testutil.HashOf(1000)
			},
			expected: VerifyProofFailureInvalidHash,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			proof := f.proof()
			testCase.mutate(proof)

			epoch := testCase.epoch
			if epoch == 0 {
				epoch = proof.Round.Epoch
			}
			require.Equal(t, testCase.expected, VerifyFinalizationProof(logger, proof, f.contexts(epoch), Ed25519Verifier{}))
		})
	}
}

func TestVerifyFinalizationProofSurvivesEncoding(t *testing.T) {
	f := newProofFixture(t)

	var parsed FinalizationProof
	require.NoError(t, parsed.FromBytes(f.proof().Bytes()))
	require.Equal(t, VerifyProofSuccess, VerifyFinalizationProof(testutil.MakeLogger(t), &parsed, f.contexts(2), Ed25519Verifier{}))
}
