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

func TestMessageBytes(t *testing.T) {
	voter := testutil.MakeVoters(t, 1)[0]
	msg := voter.Prevote(t, FinalizationRound{Epoch: 7, Point: 3}, 100, testutil.Hashes(100, 4))

	buff := msg.Bytes()
	require.Len(t, buff, MessageHeaderSize+4*32)
	require.Equal(t, uint32(len(buff)), binary.BigEndian.Uint32(buff))
	require.Equal(t, uint64(103), msg.LastHeight())

	var parsed Message
	require.NoError(t, parsed.FromBytes(buff))
	require.Equal(t, msg, &parsed)
	require.NoError(t, parsed.Verify(Ed25519Verifier{}))
	require.Equal(t, msg.Hash(), parsed.Hash())
}

func TestMessageFromBytesMalformed(t *testing.T) {
	voter := testutil.MakeVoters(t, 1)[0]
	buff := voter.Precommit(t, FinalizationRound{Epoch: 7, Point: 3}, 100, testutil.HashOf(100)).Bytes()

	for _, testCase := range []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{
			name:   "truncated",
			mutate: func(b []byte) []byte { return b[:MessageHeaderSize-1] },
		},
		{
			name:   "size mismatch",
			mutate: func(b []byte) []byte { return append(b, 0) },
		},
		{
			name: "hashes count mismatch",
			mutate: func(b []byte) []byte {
				binary.BigEndian.PutUint32(b[4:], 2)
				return b
			},
		},
		{
			name: "unknown stage",
			mutate: func(b []byte) []byte {
				binary.BigEndian.PutUint32(b[4+4+96+8:], 2)
				return b
			},
		},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			var msg Message
			require.ErrorIs(t, msg.FromBytes(testCase.mutate(append([]byte(nil), buff...))), ErrMalformedMessage)
		})
	}
}

func TestMessageSignatureCoversContent(t *testing.T) {
	voters := testutil.MakeVoters(t, 1, 1)
	round := FinalizationRound{Epoch: 7, Point: 3}
	msg := voters[0].Prevote(t, round, 100, testutil.Hashes(100, 2))
	require.NoError(t, msg.Verify(Ed25519Verifier{}))

	for _, mutate := range []func(*Message){
		func(m *Message) { m.Height++ },
		func(m *Message) { m.Hashes[1] = testutil.HashOf(500) },
		func(m *Message) { m.StepIdentifier.Point++ },
		func(m *Message) { m.StepIdentifier.Stage = StagePrecommit },
		func(m *Message) { m.Signature.Signer = voters[1].PublicKey() },
	} {
		clone := msg.Clone()
		mutate(clone)
		require.ErrorIs(t, clone.Verify(Ed25519Verifier{}), ErrInvalidSignature)
	}

	// the clone does not share hashes with the original
	require.NoError(t, msg.Verify(Ed25519Verifier{}))
}

func TestMessageHashIncludesSignature(t *testing.T) {
	voters := testutil.MakeVoters(t, 1, 1)
	round := FinalizationRound{Epoch: 7, Point: 3}
	first := voters[0].Precommit(t, round, 100, testutil.HashOf(100))
	second := voters[1].Precommit(t, round, 100, testutil.HashOf(100))

	require.NotEqual(t, first.Hash(), second.Hash())
	require.Equal(t, first.Hash(), first.Clone().Hash())

	set := NewShortHashSet(ShortHashOf(first.Hash()))
	require.True(t, set.Contains(ShortHashOf(first.Hash())))
	require.False(t, set.Contains(ShortHashOf(second.Hash())))
}
