// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/luxfi/finality"
	"github.com/luxfi/finality/testutil"
)

// testConfig finalizes 50 blocks per voting set with a 70% threshold.
func testConfig() Config {
	config := DefaultConfig()
	config.Size = 1000
	config.Threshold = 700
	config.MaxHashesPerPoint = 10
	config.PrevoteBlocksMultiple = 5
	config.VotingSetGrouping = 50
	return config
}

type aggregatorFixture struct {
	t          *testing.T
	voters     []testutil.Voter
	context    *FinalizationContext
	aggregator RoundMessageAggregator
	round      FinalizationRound
}

func newAggregatorFixture(t *testing.T, maxResponseSize uint64) *aggregatorFixture {
	voters := testutil.MakeVoters(t, 400, 300, 200, 100)
	round := FinalizationRound{Epoch: 3, Point: 7}
	factory := NewFinalizationContextFactory(testConfig(), testutil.Oracle(voters))
	context := factory(round.Epoch)
	return &aggregatorFixture{
		t:          t,
		voters:     voters,
		context:    context,
		aggregator: NewRoundMessageAggregator(testutil.MakeLogger(t), maxResponseSize, round, context, Ed25519Verifier{}),
		round:      round,
	}
}

func TestRoundAggregatorContext(t *testing.T) {
	f := newAggregatorFixture(t, 1<<20)

	require.Equal(t, uint32(3), f.context.Epoch())
	require.Equal(t, uint64(50), f.context.Height())
	require.Equal(t, uint64(1000), f.context.Weight())
	require.Equal(t, uint64(700), f.context.Threshold())
	require.True(t, f.context.IsEligibleVoter(f.voters[3].PublicKey()))
	require.Equal(t, uint64(700), f.aggregator.RoundContext().Threshold())
}

func TestRoundAggregatorRejectsMalformedMessages(t *testing.T) {
	f := newAggregatorFixture(t, 1<<20)
	voter := f.voters[0]

	twoHashPrecommit := &Message{
		StepIdentifier: NewStepIdentifier(f.round, StagePrecommit),
		Height:         60,
		Hashes:         testutil.Hashes(60, 2),
	}
	require.NoError(t, twoHashPrecommit.Sign(voter))

	for _, testCase := range []struct {
		name     string
		msg      *Message
		expected AddResult
	}{
		{
			name:     "no hashes",
			msg:      voter.Prevote(t, f.round, 60, nil),
			expected: AddFailureInvalidHashes,
		},
		{
			name:     "too many hashes",
			msg:      voter.Prevote(t, f.round, 60, testutil.Hashes(60, 11)),
			expected: AddFailureInvalidHashes,
		},
		{
			name:     "precommit with two hashes",
			msg:      twoHashPrecommit,
			expected: AddFailureInvalidHashes,
		},
		{
			name:     "another round",
			msg:      voter.Prevote(t, FinalizationRound{Epoch: 3, Point: 8}, 60, testutil.Hashes(60, 1)),
			expected: AddFailureInvalidPoint,
		},
		{
			name:     "below finalized height",
			msg:      voter.Prevote(t, f.round, 45, testutil.Hashes(45, 3)),
			expected: AddFailureInvalidHeight,
		},
		{
			name:     "starts in previous voting set",
			msg:      voter.Prevote(t, f.round, 49, testutil.Hashes(49, 3)),
			expected: AddFailureInvalidHashes,
		},
		{
			name:     "ends in next voting set",
			msg:      voter.Prevote(t, f.round, 98, testutil.Hashes(98, 4)),
			expected: AddFailureInvalidHashes,
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			require.Equal(t, testCase.expected, f.aggregator.Add(testCase.msg))
		})
	}

	require.Zero(t, f.aggregator.Size())
}

func TestRoundAggregatorAcceptsVotes(t *testing.T) {
	f := newAggregatorFixture(t, 1<<20)
	hashes := testutil.Hashes(50, 5)

	prevote := f.voters[0].Prevote(t, f.round, 50, hashes)
	require.Equal(t, AddSuccessPrevote, f.aggregator.Add(prevote))
	require.Equal(t, AddNeutralRedundant, f.aggregator.Add(prevote.Clone()))

	conflicting := f.voters[0].Prevote(t, f.round, 50, hashes[:4])
	require.Equal(t, AddFailureConflicting, f.aggregator.Add(conflicting))

	precommit := f.voters[0].Precommit(t, f.round, 52, hashes[2])
	require.Equal(t, AddSuccessPrecommit, f.aggregator.Add(precommit))

	require.Equal(t, 2, f.aggregator.Size())
	require.Equal(t, Weights{Prevote: 400, Precommit: 400}, f.aggregator.RoundContext().Weights(HeightHashPair{Height: 52, Hash: hashes[2]}))
	require.Equal(t, Weights{Prevote: 400}, f.aggregator.RoundContext().Weights(HeightHashPair{Height: 53, Hash: hashes[3]}))
}

func TestRoundAggregatorRejectsUnverifiableMessages(t *testing.T) {
	f := newAggregatorFixture(t, 1<<20)
	hashes := testutil.Hashes(50, 5)

	signer, err := GenerateEd25519Signer(rand.Reader)
	require.NoError(t, err)
	outsider := testutil.Voter{Ed25519Signer: signer, Weight: 1}
	require.Equal(t, AddFailureProcessing, f.aggregator.Add(outsider.Prevote(t, f.round, 50, hashes)))

	forged := f.voters[1].Prevote(t, f.round, 50, hashes)
	forged.Signature.Value[0] ^= 0xFF
	require.Equal(t, AddFailureProcessing, f.aggregator.Add(forged))

	stolen := f.voters[1].Prevote(t, f.round, 50, hashes)
	stolen.Signature.Signer = f.voters[2].PublicKey()
	require.Equal(t, AddFailureProcessing, f.aggregator.Add(stolen))

	require.Zero(t, f.aggregator.Size())
}

func TestRoundAggregatorUnknownMessages(t *testing.T) {
	hashes := testutil.Hashes(50, 3)
	messageSize := uint64(MessageHeaderSize + 3*32)

	f := newAggregatorFixture(t, 2*messageSize+1)
	var shortHashes []ShortHash
	for _, voter := range f.voters {
		msg := voter.Prevote(t, f.round, 50, hashes)
		require.Equal(t, AddSuccessPrevote, f.aggregator.Add(msg))
		shortHashes = append(shortHashes, ShortHashOf(msg.Hash()))
	}

	require.Equal(t, shortHashes, f.aggregator.ShortHashes())

	unknown := f.aggregator.UnknownMessages(nil)
	require.Len(t, unknown, 2)
	require.Equal(t, f.voters[0].PublicKey(), unknown[0].Signature.Signer)
	require.Equal(t, f.voters[1].PublicKey(), unknown[1].Signature.Signer)

	unknown = f.aggregator.UnknownMessages(NewShortHashSet(shortHashes[0], shortHashes[2]))
	require.Len(t, unknown, 2)
	require.Equal(t, f.voters[1].PublicKey(), unknown[0].Signature.Signer)
	require.Equal(t, f.voters[3].PublicKey(), unknown[1].Signature.Signer)

	require.Empty(t, f.aggregator.UnknownMessages(NewShortHashSet(shortHashes...)))
}
