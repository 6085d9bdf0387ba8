// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/luxfi/finality"
	"github.com/luxfi/finality/record"
)

func TestVotingStatusBytes(t *testing.T) {
	status := VotingStatus{Round: FinalizationRound{Epoch: 0x01020304, Point: 9}, HasSentPrecommit: true}
	buff := status.Bytes()
	require.Equal(t, []byte{1, 2, 3, 4, 0, 0, 0, 9, 0, 1}, buff)

	var parsed VotingStatus
	require.NoError(t, parsed.FromBytes(buff))
	require.Equal(t, status, parsed)

	require.Error(t, parsed.FromBytes(buff[:9]))
}

func TestVotingStatusFile(t *testing.T) {
	dir := t.TempDir()
	file := NewVotingStatusFile(dir)

	status, err := file.Load()
	require.NoError(t, err)
	require.Equal(t, VotingStatus{Round: FinalizationRound{Epoch: 1, Point: 1}}, status)

	saved := VotingStatus{Round: FinalizationRound{Epoch: 4, Point: 2}, HasSentPrevote: true}
	require.NoError(t, file.Save(saved))
	status, err = NewVotingStatusFile(dir).Load()
	require.NoError(t, err)
	require.Equal(t, saved, status)

	saved = VotingStatus{Round: FinalizationRound{Epoch: 5, Point: 1}}
	require.NoError(t, file.Save(saved))
	status, err = file.Load()
	require.NoError(t, err)
	require.Equal(t, saved, status)

	// no temporary files are left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, VotingStatusFileName, entries[0].Name())
}

func TestVotingStatusFileCorrupted(t *testing.T) {
	dir := t.TempDir()
	file := NewVotingStatusFile(dir)
	require.NoError(t, file.Save(VotingStatus{Round: FinalizationRound{Epoch: 4, Point: 2}}))

	path := filepath.Join(dir, VotingStatusFileName)
	buff, err := os.ReadFile(path)
	require.NoError(t, err)
	buff[len(buff)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, buff, 0o644))

	_, err = file.Load()
	require.ErrorIs(t, err, record.ErrInvalidCRC)

	status := VotingStatus{Round: FinalizationRound{Epoch: 4, Point: 2}}
	require.NoError(t, os.WriteFile(path, record.New(record.PrevoteRecordType, status.Bytes()).Bytes(), 0o644))
	_, err = file.Load()
	require.Error(t, err)
}
