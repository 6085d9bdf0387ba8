// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MessageFactory creates signed messages of the local voter.
// A nil message means nothing could be created.
type MessageFactory interface {
	CreatePrevote(round FinalizationRound) *Message
	CreatePrecommit(round FinalizationRound, height uint64, hash Hash) *Message
}

// MessagePredicate reports whether a message may be sent.
type MessagePredicate func(msg *Message) bool

// Orchestrator drives the local voter through the stages of consecutive rounds.
// It is not safe for concurrent use.
type Orchestrator struct {
	logger          Logger
	status          VotingStatus
	advancerFactory StageAdvancerFactory
	messageFactory  MessageFactory
	isEligible      MessagePredicate
	sink            MessageSink
	advancer        StageAdvancer
}

func NewOrchestrator(
	logger Logger,
	status VotingStatus,
	advancerFactory StageAdvancerFactory,
	messageFactory MessageFactory,
	isEligible MessagePredicate,
	sink MessageSink,
) *Orchestrator {
	return &Orchestrator{
		logger:          logger,
		status:          status,
		advancerFactory: advancerFactory,
		messageFactory:  messageFactory,
		isEligible:      isEligible,
		sink:            sink,
	}
}

func (o *Orchestrator) VotingStatus() VotingStatus {
	return o.status
}

// SetEpoch moves the voter to the first round of epoch.
func (o *Orchestrator) SetEpoch(epoch uint32) error {
	if epoch < o.status.Round.Epoch {
		return fmt.Errorf("%w: cannot move from epoch %d back to epoch %d", ErrInvalidArgument, o.status.Round.Epoch, epoch)
	}

	if epoch == o.status.Round.Epoch {
		return nil
	}

	o.logger.Info("Moving to a new finalization epoch", zap.Uint32("from", o.status.Round.Epoch), zap.Uint32("to", epoch))
	o.status = VotingStatus{Round: FinalizationRound{Epoch: epoch, Point: 1}}
	o.advancer = nil
	return nil
}

func (o *Orchestrator) Poll(now time.Time) {
	if o.advancer == nil {
		o.advancer = o.advancerFactory(o.status.Round, now)
	}

	if !o.status.HasSentPrevote && o.advancer.CanSendPrevote(now) {
		o.process(o.messageFactory.CreatePrevote(o.status.Round), StagePrevote)
		o.status.HasSentPrevote = true
	}

	if !o.status.HasSentPrecommit {
		if target, ok := o.advancer.CanSendPrecommit(now); ok {
			o.process(o.messageFactory.CreatePrecommit(o.status.Round, target.Height, target.Hash), StagePrecommit)
			o.status.HasSentPrecommit = true
		}
	}

	if o.status.HasSentPrecommit && o.advancer.CanStartNextRound() {
		o.status.Round.Point++
		o.startRound(now)
	}
}

func (o *Orchestrator) startRound(now time.Time) {
	o.logger.Debug("Starting finalization round", zap.Stringer("round", o.status.Round))
	o.status.HasSentPrevote = false
	o.status.HasSentPrecommit = false
	o.advancer = o.advancerFactory(o.status.Round, now)
}

func (o *Orchestrator) process(msg *Message, stage Stage) {
	if msg == nil {
		o.logger.Warn("Could not create finalization message", zap.Stringer("stage", stage), zap.Stringer("round", o.status.Round))
		return
	}

	if !o.isEligible(msg) {
		o.logger.Debug("Skipping finalization message of an ineligible voter",
			zap.Stringer("stage", stage), zap.Stringer("round", o.status.Round))
		return
	}

	o.logger.Debug("Sending finalization message",
		zap.Stringer("stage", stage), zap.Stringer("round", o.status.Round), zap.Uint64("height", msg.Height), zap.Int("hashes", len(msg.Hashes)))
	o.sink(msg)
}
