// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
)

const (
	roundEpochLen = 4
	roundPointLen = 4
	stageLen      = 4

	stepIdentifierLen = roundEpochLen + roundPointLen + stageLen
)

// FinalizationRound identifies one finalization attempt within an epoch.
type FinalizationRound struct {
	Epoch uint32
	Point uint32
}

// Compare orders rounds by epoch and then by point.
func (r FinalizationRound) Compare(other FinalizationRound) int {
	if c := cmp.Compare(r.Epoch, other.Epoch); c != 0 {
		return c
	}
	return cmp.Compare(r.Point, other.Point)
}

func (r FinalizationRound) Less(other FinalizationRound) bool {
	return r.Compare(other) < 0
}

func (r FinalizationRound) String() string {
	return fmt.Sprintf("(%d, %d)", r.Epoch, r.Point)
}

type Stage uint32

const (
	StagePrevote Stage = iota
	StagePrecommit

	stageCount
)

func (s Stage) String() string {
	switch s {
	case StagePrevote:
		return "prevote"
	case StagePrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("stage(%d)", uint32(s))
	}
}

// StepIdentifier is a round together with the stage a message was cast in.
type StepIdentifier struct {
	Epoch uint32
	Point uint32
	Stage Stage
}

func NewStepIdentifier(round FinalizationRound, stage Stage) StepIdentifier {
	return StepIdentifier{Epoch: round.Epoch, Point: round.Point, Stage: stage}
}

func (s StepIdentifier) Round() FinalizationRound {
	return FinalizationRound{Epoch: s.Epoch, Point: s.Point}
}

func (s StepIdentifier) Bytes() []byte {
	buff := make([]byte, stepIdentifierLen)
	s.put(buff)
	return buff
}

func (s StepIdentifier) put(buff []byte) {
	binary.BigEndian.PutUint32(buff, s.Epoch)
	binary.BigEndian.PutUint32(buff[roundEpochLen:], s.Point)
	binary.BigEndian.PutUint32(buff[roundEpochLen+roundPointLen:], uint32(s.Stage))
}

func (s *StepIdentifier) fromBytes(buff []byte) {
	s.Epoch = binary.BigEndian.Uint32(buff)
	s.Point = binary.BigEndian.Uint32(buff[roundEpochLen:])
	s.Stage = Stage(binary.BigEndian.Uint32(buff[roundEpochLen+roundPointLen:]))
}

func (s StepIdentifier) String() string {
	return fmt.Sprintf("(%d, %d, %s)", s.Epoch, s.Point, s.Stage)
}

// HeightHashPair identifies a candidate block.
type HeightHashPair struct {
	Height uint64
	Hash   Hash
}

// Compare orders candidates by height, ties broken by hash bytes.
func (p HeightHashPair) Compare(other HeightHashPair) int {
	if c := cmp.Compare(p.Height, other.Height); c != 0 {
		return c
	}
	return bytes.Compare(p.Hash[:], other.Hash[:])
}

func (p HeightHashPair) Less(other HeightHashPair) bool {
	return p.Compare(other) < 0
}

func (p HeightHashPair) String() string {
	return fmt.Sprintf("(%d, %s)", p.Height, p.Hash)
}

// VotingSetEndHeight returns the last height voted on by the voting set of epoch.
// That block is shared by the voting sets of epoch and epoch+1.
func VotingSetEndHeight(epoch uint32, grouping uint64) uint64 {
	if epoch <= 1 {
		return 1
	}
	return uint64(epoch-1) * grouping
}

// EpochForHeight returns the epoch whose voting set finalizes height.
func EpochForHeight(height uint64, grouping uint64) uint32 {
	if height <= 1 {
		return 1
	}
	return uint32((height+grouping-1)/grouping) + 1
}
