// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"time"
)

// StageAdvancer decides when the local voter may move through the stages of one round.
type StageAdvancer interface {
	CanSendPrevote(now time.Time) bool
	// CanSendPrecommit returns the block to precommit to when a precommit may be sent.
	CanSendPrecommit(now time.Time) (HeightHashPair, bool)
	CanStartNextRound() bool
}

// StageAdvancerFactory creates the advancer of round, started at startTime.
type StageAdvancerFactory func(round FinalizationRound, startTime time.Time) StageAdvancer

// NewStageAdvancerFactory creates advancers that wait multiples of stepDuration
// unless the round can already be completed.
func NewStageAdvancerFactory(stepDuration time.Duration, aggregator *MultiRoundMessageAggregator) StageAdvancerFactory {
	return func(round FinalizationRound, startTime time.Time) StageAdvancer {
		return &stageAdvancer{
			round:        round,
			startTime:    startTime,
			stepDuration: stepDuration,
			aggregator:   aggregator,
		}
	}
}

type stageAdvancer struct {
	round        FinalizationRound
	startTime    time.Time
	stepDuration time.Duration
	aggregator   *MultiRoundMessageAggregator
}

func (s *stageAdvancer) CanSendPrevote(now time.Time) bool {
	if s.elapsed(now, 1) {
		return true
	}

	view := s.aggregator.View()
	defer view.Release()

	roundContext, ok := view.TryGetRoundContext(s.round)
	return ok && roundContext.IsCompletable()
}

func (s *stageAdvancer) CanSendPrecommit(now time.Time) (HeightHashPair, bool) {
	view := s.aggregator.View()
	defer view.Release()

	roundContext, ok := view.TryGetRoundContext(s.round)
	if !ok {
		return HeightHashPair{}, false
	}

	bestPrevote, ok := roundContext.TryFindBestPrevote()
	if !ok {
		return HeightHashPair{}, false
	}

	previousRound := FinalizationRound{Epoch: s.round.Epoch, Point: s.round.Point - 1}
	previousEstimate := view.FindEstimate(previousRound)
	if !roundContext.IsDescendant(previousEstimate, bestPrevote) {
		return HeightHashPair{}, false
	}

	if !s.elapsed(now, 2) && !roundContext.IsCompletable() {
		return HeightHashPair{}, false
	}

	return bestPrevote, true
}

func (s *stageAdvancer) CanStartNextRound() bool {
	view := s.aggregator.View()
	defer view.Release()

	roundContext, ok := view.TryGetRoundContext(s.round)
	return ok && roundContext.IsCompletable()
}

func (s *stageAdvancer) elapsed(now time.Time, steps time.Duration) bool {
	return !now.Before(s.startTime.Add(steps * s.stepDuration))
}
