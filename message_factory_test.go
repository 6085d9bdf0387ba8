// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/luxfi/finality"
	"github.com/luxfi/finality/testutil"
)

type savedPrevoteChain struct {
	round  FinalizationRound
	height uint64
	count  int
}

func TestMessageFactoryPrevoteRange(t *testing.T) {
	for _, testCase := range []struct {
		name            string
		epoch           uint32
		finalizedHeight uint64
		chainHeight     uint64
		expectedCount   int
	}{
		{name: "bounded by max hashes", epoch: 2, finalizedHeight: 1, chainHeight: 30, expectedCount: 10},
		{name: "short chain", epoch: 2, finalizedHeight: 1, chainHeight: 8, expectedCount: 1},
		{name: "bounded by voting set", epoch: 2, finalizedHeight: 48, chainHeight: 200, expectedCount: 3},
		{name: "nothing past the voting set start", epoch: 3, finalizedHeight: 50, chainHeight: 54, expectedCount: 1},
		{name: "aligned to multiple", epoch: 3, finalizedHeight: 52, chainHeight: 70, expectedCount: 9},
		{name: "chain ends at finalized block", epoch: 3, finalizedHeight: 52, chainHeight: 52, expectedCount: 1},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			voter := testutil.MakeVoters(t, 1)[0]
			chain := testutil.NewChain(testCase.chainHeight)
			proofStorage := testutil.NewInMemProofStorage(FinalizationStatistics{
				Round:  FinalizationRound{Epoch: testCase.epoch - 1, Point: 1},
				Height: testCase.finalizedHeight,
				Hash:   chain.HashAt(testCase.finalizedHeight),
			})

			var saved []savedPrevoteChain
			factory := NewMessageFactory(testutil.MakeLogger(t), testConfig(), chain, proofStorage, voter, func(round FinalizationRound, height uint64, count int) {
				saved = append(saved, savedPrevoteChain{round: round, height: height, count: count})
			})

			round := FinalizationRound{Epoch: testCase.epoch, Point: 4}
			msg := factory.CreatePrevote(round)
			require.NotNil(t, msg)
			require.Equal(t, NewStepIdentifier(round, StagePrevote), msg.StepIdentifier)
			require.Equal(t, testCase.finalizedHeight, msg.Height)

			expectedHashes, err := chain.LoadHashesFrom(testCase.finalizedHeight, uint64(testCase.expectedCount))
			require.NoError(t, err)
			require.Equal(t, expectedHashes, msg.Hashes)
			require.NoError(t, msg.Verify(Ed25519Verifier{}))

			require.Equal(t, []savedPrevoteChain{{round: round, height: testCase.finalizedHeight, count: testCase.expectedCount}}, saved)
		})
	}
}

func TestMessageFactoryPrevoteOfLaggingChain(t *testing.T) {
	voter := testutil.MakeVoters(t, 1)[0]
	chain := testutil.NewChain(15)
	finalizedHash := testutil.HashOf(20)
	proofStorage := testutil.NewInMemProofStorage(FinalizationStatistics{
		Round:  FinalizationRound{Epoch: 2, Point: 3},
		Height: 20,
		Hash:   finalizedHash,
	})

	var saved []savedPrevoteChain
	factory := NewMessageFactory(testutil.MakeLogger(t), testConfig(), chain, proofStorage, voter, func(round FinalizationRound, height uint64, count int) {
		saved = append(saved, savedPrevoteChain{round: round, height: height, count: count})
	})

	round := FinalizationRound{Epoch: 2, Point: 4}
	msg := factory.CreatePrevote(round)
	require.NotNil(t, msg)
	require.Equal(t, uint64(20), msg.Height)
	require.Equal(t, []Hash{finalizedHash}, msg.Hashes)
	require.Equal(t, []savedPrevoteChain{{round: round, height: 20, count: 0}}, saved)
}

type failingBlockStorage struct {
	height uint64
}

func (s failingBlockStorage) ChainHeight() uint64 {
	return s.height
}

func (failingBlockStorage) LoadHashesFrom(uint64, uint64) ([]Hash, error) {
	return nil, errors.New("block storage is unavailable")
}

func TestMessageFactoryFailures(t *testing.T) {
	voter := testutil.MakeVoters(t, 1)[0]
	proofStorage := testutil.NewInMemProofStorage(FinalizationStatistics{Round: FinalizationRound{Epoch: 1, Point: 1}, Height: 1})
	round := FinalizationRound{Epoch: 2, Point: 1}

	factory := NewMessageFactory(testutil.MakeLogger(t), testConfig(), failingBlockStorage{height: 100}, proofStorage, voter, nil)
	require.Nil(t, factory.CreatePrevote(round))

	factory = NewMessageFactory(testutil.MakeLogger(t), testConfig(), testutil.NewChain(100), proofStorage, testutil.FailingSigner{}, nil)
	require.Nil(t, factory.CreatePrevote(round))
	require.Nil(t, factory.CreatePrecommit(round, 5, testutil.HashOf(5)))
}

func TestMessageFactoryPrecommit(t *testing.T) {
	voter := testutil.MakeVoters(t, 1)[0]
	proofStorage := testutil.NewInMemProofStorage(FinalizationStatistics{Round: FinalizationRound{Epoch: 1, Point: 1}, Height: 1})
	factory := NewMessageFactory(testutil.MakeLogger(t), testConfig(), testutil.NewChain(100), proofStorage, voter, nil)

	round := FinalizationRound{Epoch: 2, Point: 6}
	msg := factory.CreatePrecommit(round, 7, testutil.HashOf(7))
	require.NotNil(t, msg)
	require.Equal(t, NewStepIdentifier(round, StagePrecommit), msg.StepIdentifier)
	require.Equal(t, uint64(7), msg.Height)
	require.Equal(t, []Hash{testutil.HashOf(7)}, msg.Hashes)
	require.Equal(t, voter.PublicKey(), msg.Signature.Signer)
	require.NoError(t, msg.Verify(Ed25519Verifier{}))
}
