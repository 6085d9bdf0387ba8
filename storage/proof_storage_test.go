// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/finality"
	"github.com/luxfi/finality/storage"
)

var genesis = finality.FinalizationStatistics{
	Round:  finality.FinalizationRound{Epoch: 1, Point: 1},
	Height: 1,
	Hash:   finality.Hash{1},
}

func newProof(epoch uint32, point uint32, height uint64) *finality.FinalizationProof {
	return &finality.FinalizationProof{
		Version: finality.FinalizationProofVersion,
		Round:   finality.FinalizationRound{Epoch: epoch, Point: point},
		Height:  height,
		Hash:    finality.Hash{byte(height)},
		MessageGroups: []finality.MessageGroup{
			{
				Stage:           finality.StagePrecommit,
				Height:          height,
				Hashes:          []finality.Hash{{byte(height)}},
				SignatureSchema: finality.SignatureSchemaEd25519,
				Signatures:      []finality.Signature{{Signer: finality.VotingKey{7}}},
			},
		},
	}
}

func TestProofStorageStartsAtGenesis(t *testing.T) {
	s, err := storage.OpenInMemory(genesis)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, s.Close())
	}()

	require.Equal(t, genesis, s.Statistics())

	_, err = s.LoadProof(1)
	require.ErrorIs(t, err, finality.ErrProofNotFound)

	_, err = s.LoadProofAtHeight(1)
	require.ErrorIs(t, err, finality.ErrProofNotFound)
}

func TestProofStorageSaveAndLoad(t *testing.T) {
	require := require.New(t)

	s, err := storage.OpenInMemory(genesis)
	require.NoError(err)
	defer func() {
		require.NoError(s.Close())
	}()

	first := newProof(2, 3, 10)
	second := newProof(2, 5, 20)
	require.NoError(s.SaveProof(first))
	require.NoError(s.SaveProof(second))

	require.Equal(second.Statistics(), s.Statistics())

	// the epoch resolves to its last proof
	proof, err := s.LoadProof(2)
	require.NoError(err)
	require.Equal(second, proof)

	proof, err = s.LoadProofAtHeight(10)
	require.NoError(err)
	require.Equal(first, proof)

	_, err = s.LoadProofAtHeight(15)
	require.ErrorIs(err, finality.ErrProofNotFound)
}

func TestProofStorageRejectsProofs(t *testing.T) {
	tests := []struct {
		name  string
		proof *finality.FinalizationProof
	}{
		{
			name:  "epoch before current",
			proof: newProof(1, 9, 40),
		},
		{
			name:  "epoch skipped",
			proof: newProof(4, 1, 40),
		},
		{
			name:  "height not above finalized",
			proof: newProof(2, 9, 20),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, err := storage.OpenInMemory(genesis)
			require.NoError(t, err)
			defer func() {
				require.NoError(t, s.Close())
			}()

			require.NoError(t, s.SaveProof(newProof(2, 1, 20)))
			require.ErrorIs(t, s.SaveProof(test.proof), storage.ErrInvalidProof)
			require.Equal(t, uint64(20), s.Statistics().Height)
		})
	}
}

func TestProofStorageReopen(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	s, err := storage.Open(dir, genesis)
	require.NoError(err)

	proof := newProof(2, 4, 30)
	require.NoError(s.SaveProof(proof))
	require.NoError(s.Close())

	// genesis is ignored once statistics are stored
	s, err = storage.Open(dir, finality.FinalizationStatistics{})
	require.NoError(err)
	defer func() {
		require.NoError(s.Close())
	}()

	require.Equal(proof.Statistics(), s.Statistics())

	loaded, err := s.LoadProof(2)
	require.NoError(err)
	require.Equal(proof, loaded)
}
