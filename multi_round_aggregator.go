// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"go.uber.org/zap"
)

const roundTreeDegree = 8

// RoundMessageAggregatorFactory creates the aggregator of a round the first time
// a message for it arrives.
type RoundMessageAggregatorFactory func(round FinalizationRound) RoundMessageAggregator

// BestPrecommitDescriptor describes the most recent block with a precommit quorum together
// with the messages proving it.
type BestPrecommitDescriptor struct {
	Round  FinalizationRound
	Target HeightHashPair
	Proof  []*Message

	found bool
}

// IsEmpty returns true when no round holds a precommit quorum.
func (d BestPrecommitDescriptor) IsEmpty() bool {
	return !d.found
}

type roundEntry struct {
	round      FinalizationRound
	aggregator RoundMessageAggregator
}

func (e *roundEntry) Less(other *roundEntry) bool {
	return e.round.Less(other.round)
}

type multiRoundState struct {
	logger                          Logger
	maxResponseSize                 uint64
	minRound                        FinalizationRound
	maxRound                        FinalizationRound
	previousFinalizedHeightHashPair HeightHashPair
	factory                         RoundMessageAggregatorFactory
	rounds                          *btree.BTreeG[*roundEntry]
}

// MultiRoundMessageAggregator holds the aggregators of every round inside the window
// [min, max]. Readers take a View and writers take a Modifier.
type MultiRoundMessageAggregator struct {
	lock  sync.RWMutex
	state multiRoundState
}

func NewMultiRoundMessageAggregator(
	logger Logger,
	maxResponseSize uint64,
	round FinalizationRound,
	previousFinalizedHeightHashPair HeightHashPair,
	factory RoundMessageAggregatorFactory,
) *MultiRoundMessageAggregator {
	return &MultiRoundMessageAggregator{
		state: multiRoundState{
			logger:                          logger,
			maxResponseSize:                 maxResponseSize,
			minRound:                        round,
			maxRound:                        round,
			previousFinalizedHeightHashPair: previousFinalizedHeightHashPair,
			factory:                         factory,
			rounds:                          btree.NewG(roundTreeDegree, (*roundEntry).Less),
		},
	}
}

// View acquires a read lock. The view must be released and not used afterwards.
func (a *MultiRoundMessageAggregator) View() *MultiRoundView {
	a.lock.RLock()
	return &MultiRoundView{state: &a.state, release: a.lock.RUnlock}
}

// Modifier acquires the write lock. The modifier must be released and not used afterwards.
func (a *MultiRoundMessageAggregator) Modifier() *MultiRoundModifier {
	a.lock.Lock()
	return &MultiRoundModifier{state: &a.state, release: a.lock.Unlock}
}

// MultiRoundView exposes the read operations of a MultiRoundMessageAggregator.
type MultiRoundView struct {
	state   *multiRoundState
	release func()
}

func (v *MultiRoundView) Release() {
	v.release()
}

func (v *MultiRoundView) Size() int {
	return v.state.rounds.Len()
}

func (v *MultiRoundView) MinFinalizationRound() FinalizationRound {
	return v.state.minRound
}

func (v *MultiRoundView) MaxFinalizationRound() FinalizationRound {
	return v.state.maxRound
}

func (v *MultiRoundView) PreviousFinalizedHeightHashPair() HeightHashPair {
	return v.state.previousFinalizedHeightHashPair
}

func (v *MultiRoundView) TryGetRoundContext(round FinalizationRound) (*RoundContext, bool) {
	entry, ok := v.state.rounds.Get(&roundEntry{round: round})
	if !ok {
		return nil, false
	}
	return entry.aggregator.RoundContext(), true
}

// FindEstimate returns the estimate of the latest round not after round, falling back to
// the previously finalized block.
func (v *MultiRoundView) FindEstimate(round FinalizationRound) HeightHashPair {
	return v.state.findEstimate(round)
}

func (v *MultiRoundView) TryFindBestPrecommit() BestPrecommitDescriptor {
	var descriptor BestPrecommitDescriptor
	v.state.rounds.Descend(func(entry *roundEntry) bool {
		target, ok := entry.aggregator.RoundContext().TryFindBestPrecommit()
		if !ok {
			return true
		}

		descriptor = BestPrecommitDescriptor{
			Round:  entry.round,
			Target: target,
			Proof:  entry.aggregator.UnknownMessages(nil),
			found:  true,
		}
		return false
	})
	return descriptor
}

func (v *MultiRoundView) ShortHashes() []ShortHash {
	var shortHashes []ShortHash
	v.state.rounds.Ascend(func(entry *roundEntry) bool {
		shortHashes = append(shortHashes, entry.aggregator.ShortHashes()...)
		return true
	})
	return shortHashes
}

// UnknownMessages returns messages of rounds starting at minRound that are not in known.
func (v *MultiRoundView) UnknownMessages(minRound FinalizationRound, known ShortHashSet) []*Message {
	return v.state.unknownMessages(minRound, nil, known)
}

// UnknownMessagesInRange returns messages of rounds in [minRound, maxRound] that are not in known.
func (v *MultiRoundView) UnknownMessagesInRange(minRound FinalizationRound, maxRound FinalizationRound, known ShortHashSet) []*Message {
	return v.state.unknownMessages(minRound, &maxRound, known)
}

// MultiRoundModifier exposes the write operations of a MultiRoundMessageAggregator.
type MultiRoundModifier struct {
	state   *multiRoundState
	release func()
}

func (m *MultiRoundModifier) Release() {
	m.release()
}

func (m *MultiRoundModifier) SetMaxFinalizationRound(round FinalizationRound) error {
	if round.Less(m.state.minRound) {
		return fmt.Errorf("%w: max round %s is below min round %s", ErrInvalidArgument, round, m.state.minRound)
	}

	m.state.maxRound = round
	return nil
}

func (m *MultiRoundModifier) Add(msg *Message) AddResult {
	round := msg.StepIdentifier.Round()
	if round.Less(m.state.minRound) || m.state.maxRound.Less(round) {
		m.state.logger.Debug("Rejecting message outside of the round window",
			zap.Stringer("round", round), zap.Stringer("min", m.state.minRound), zap.Stringer("max", m.state.maxRound))
		return AddFailureInvalidPoint
	}

	if entry, ok := m.state.rounds.Get(&roundEntry{round: round}); ok {
		return entry.aggregator.Add(msg)
	}

	aggregator := m.state.factory(round)
	result := aggregator.Add(msg)
	if !result.IsFailure() {
		m.state.rounds.ReplaceOrInsert(&roundEntry{round: round, aggregator: aggregator})
	}
	return result
}

// Prune drops every round before the latest round holding a precommit quorum.
func (m *MultiRoundModifier) Prune() {
	var bestRound *roundEntry
	m.state.rounds.Descend(func(entry *roundEntry) bool {
		if _, ok := entry.aggregator.RoundContext().TryFindBestPrecommit(); ok {
			bestRound = entry
			return false
		}
		return true
	})

	if bestRound == nil {
		return
	}

	m.state.rounds.DescendLessOrEqual(bestRound, func(entry *roundEntry) bool {
		if entry == bestRound {
			return true
		}

		estimate, ok := entry.aggregator.RoundContext().TryFindEstimate()
		if !ok {
			return true
		}

		m.state.adoptPreviousFinalized(estimate)
		return false
	})

	removed := m.state.removeBefore(bestRound.round)
	m.state.minRound = bestRound.round
	m.state.logger.Debug("Pruned finalization rounds",
		zap.Int("removed", removed), zap.Stringer("min", m.state.minRound),
		zap.Stringer("previousFinalized", m.state.previousFinalizedHeightHashPair))
}

// PruneBefore drops every round of an epoch before epoch.
func (m *MultiRoundModifier) PruneBefore(epoch uint32) {
	boundary := &roundEntry{round: FinalizationRound{Epoch: epoch}}

	adopted := false
	m.state.rounds.DescendLessOrEqual(boundary, func(entry *roundEntry) bool {
		if entry.round.Epoch >= epoch {
			return true
		}

		estimate, ok := entry.aggregator.RoundContext().TryFindEstimate()
		if !ok {
			return true
		}

		m.state.adoptPreviousFinalized(estimate)
		adopted = true
		return false
	})

	removed := m.state.removeBefore(boundary.round)
	if first, ok := m.state.rounds.Min(); ok {
		m.state.minRound = first.round
	} else {
		m.state.minRound = m.state.maxRound
	}

	if removed == 0 && !adopted {
		return
	}

	m.state.logger.Debug("Pruned finalization epochs",
		zap.Uint32("epoch", epoch), zap.Int("removed", removed), zap.Stringer("min", m.state.minRound),
		zap.Stringer("previousFinalized", m.state.previousFinalizedHeightHashPair))
}

func (s *multiRoundState) findEstimate(round FinalizationRound) HeightHashPair {
	estimate := s.previousFinalizedHeightHashPair
	s.rounds.DescendLessOrEqual(&roundEntry{round: round}, func(entry *roundEntry) bool {
		key, ok := entry.aggregator.RoundContext().TryFindEstimate()
		if !ok {
			return true
		}

		estimate = key
		return false
	})
	return estimate
}

func (s *multiRoundState) unknownMessages(minRound FinalizationRound, maxRound *FinalizationRound, known ShortHashSet) []*Message {
	var (
		messages  []*Message
		totalSize uint64
	)
	s.rounds.AscendGreaterOrEqual(&roundEntry{round: minRound}, func(entry *roundEntry) bool {
		if maxRound != nil && maxRound.Less(entry.round) {
			return false
		}

		for _, msg := range entry.aggregator.UnknownMessages(known) {
			size := uint64(msg.Size())
			if totalSize+size > s.maxResponseSize {
				return false
			}

			totalSize += size
			messages = append(messages, msg)
		}
		return true
	})
	return messages
}

// adoptPreviousFinalized replaces the previously finalized block unless that would move it backwards.
func (s *multiRoundState) adoptPreviousFinalized(estimate HeightHashPair) {
	if estimate.Height < s.previousFinalizedHeightHashPair.Height {
		return
	}
	s.previousFinalizedHeightHashPair = estimate
}

func (s *multiRoundState) removeBefore(round FinalizationRound) int {
	var stale []*roundEntry
	s.rounds.AscendLessThan(&roundEntry{round: round}, func(entry *roundEntry) bool {
		stale = append(stale, entry)
		return true
	})

	for _, entry := range stale {
		s.rounds.Delete(entry)
	}
	return len(stale)
}
