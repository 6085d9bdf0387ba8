// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/finality/record"
)

func newTestWAL(t *testing.T) (*WriteAheadLog, string) {
	fileName := filepath.Join(t.TempDir(), "votes.wal")
	wal, err := New(fileName)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, wal.Close())
	})
	return wal, fileName
}

func TestWalSingleRw(t *testing.T) {
	require := require.New(t)

	r := record.New(record.PrevoteRecordType, []byte{3, 4, 5})

	wal, _ := newTestWAL(t)
	require.NoError(wal.Append(r))

	readRecords, err := wal.ReadAll()
	require.NoError(err)
	require.Equal([]record.Record{*r}, readRecords)
}

func TestWalAppendAfterRead(t *testing.T) {
	require := require.New(t)

	r1 := record.New(record.PrevoteRecordType, []byte{3, 4, 5})
	r2 := record.New(record.PrecommitRecordType, []byte{1, 2, 3})

	wal, _ := newTestWAL(t)
	require.NoError(wal.Append(r1))

	readRecords, err := wal.ReadAll()
	require.NoError(err)
	require.Equal([]record.Record{*r1}, readRecords)

	require.NoError(wal.Append(r2))

	readRecords, err = wal.ReadAll()
	require.NoError(err)
	require.Equal([]record.Record{*r1, *r2}, readRecords)
}

// Write 4 records, corrupt the last one
func TestCorruptedFile(t *testing.T) {
	require := require.New(t)

	wal, fileName := newTestWAL(t)

	const n = 4
	records := make([]record.Record, n)
	for i := range records {
		records[i] = *record.New(record.PrevoteRecordType, []byte{byte(i), byte(i), byte(i)})
		require.NoError(wal.Append(&records[i]))
	}

	file, err := os.OpenFile(fileName, os.O_RDWR, 0o666)
	require.NoError(err)

	recordSize := records[0].Size()
	_, err = file.WriteAt([]byte{0, 1, 2}, int64(3*recordSize+8))
	require.NoError(err)
	require.NoError(file.Close())

	readRecords, err := wal.ReadAll()
	require.NoError(err)
	require.Equal(records[:n-1], readRecords)

	// the corrupted tail was cut off
	require.NoError(wal.Append(&records[n-1]))
	readRecords, err = wal.ReadAll()
	require.NoError(err)
	require.Equal(records, readRecords)
}

func TestReadWriteAfterTruncate(t *testing.T) {
	require := require.New(t)

	r := record.New(record.PrecommitRecordType, []byte{3, 4, 5})

	wal, _ := newTestWAL(t)
	require.NoError(wal.Append(r))
	require.NoError(wal.Truncate())

	readRecords, err := wal.ReadAll()
	require.NoError(err)
	require.Empty(readRecords)

	require.NoError(wal.Append(r))

	readRecords, err = wal.ReadAll()
	require.NoError(err)
	require.Equal([]record.Record{*r}, readRecords)
}
