// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/luxfi/finality/record"
)

const (
	votingStatusEpochLen = 4
	votingStatusPointLen = 4
	votingStatusFlagLen  = 1

	votingStatusLen = votingStatusEpochLen + votingStatusPointLen + 2*votingStatusFlagLen

	VotingStatusFileName = "voting_status.dat"
)

// VotingStatus is the progress of the local voter.
type VotingStatus struct {
	Round            FinalizationRound
	HasSentPrevote   bool
	HasSentPrecommit bool
}

func (s *VotingStatus) Bytes() []byte {
	buff := make([]byte, votingStatusLen)
	var pos int

	binary.BigEndian.PutUint32(buff[pos:], s.Round.Epoch)
	pos += votingStatusEpochLen

	binary.BigEndian.PutUint32(buff[pos:], s.Round.Point)
	pos += votingStatusPointLen

	if s.HasSentPrevote {
		buff[pos] = 1
	}
	pos += votingStatusFlagLen

	if s.HasSentPrecommit {
		buff[pos] = 1
	}

	return buff
}

func (s *VotingStatus) FromBytes(buff []byte) error {
	if len(buff) != votingStatusLen {
		return fmt.Errorf("invalid buffer length %d, expected %d", len(buff), votingStatusLen)
	}

	var pos int

	s.Round.Epoch = binary.BigEndian.Uint32(buff[pos:])
	pos += votingStatusEpochLen

	s.Round.Point = binary.BigEndian.Uint32(buff[pos:])
	pos += votingStatusPointLen

	s.HasSentPrevote = buff[pos] == 1
	pos += votingStatusFlagLen

	s.HasSentPrecommit = buff[pos] == 1

	return nil
}

// VotingStatusFile persists the voting status so that a restarted node never votes twice.
type VotingStatusFile struct {
	path string
}

func NewVotingStatusFile(dir string) *VotingStatusFile {
	return &VotingStatusFile{path: filepath.Join(dir, VotingStatusFileName)}
}

// Load returns the saved status, or the first round of the first epoch when none was saved.
func (f *VotingStatusFile) Load() (VotingStatus, error) {
	buff, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return VotingStatus{Round: FinalizationRound{Epoch: 1, Point: 1}}, nil
	}
	if err != nil {
		return VotingStatus{}, err
	}

	var r record.Record
	if _, err := r.FromBytes(bytes.NewReader(buff)); err != nil {
		return VotingStatus{}, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	if r.Type != record.VotingStatusRecordType {
		return VotingStatus{}, fmt.Errorf("expected record type %d, got %d", record.VotingStatusRecordType, r.Type)
	}

	var status VotingStatus
	if err := status.FromBytes(r.Payload); err != nil {
		return VotingStatus{}, err
	}
	return status, nil
}

// Save replaces the saved status. The file is either the old or the new status, never a mix.
func (f *VotingStatusFile) Save(status VotingStatus) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), VotingStatusFileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(record.New(record.VotingStatusRecordType, status.Bytes()).Bytes()); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), f.path)
}
