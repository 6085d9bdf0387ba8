// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"fmt"

	"go.uber.org/zap"
)

// AddResult is the outcome of adding a message to an aggregator.
// Failures order below Neutral which orders below successes.
type AddResult uint8

const (
	AddFailureInvalidPoint AddResult = iota
	AddFailureInvalidHeight
	AddFailureInvalidHashes
	AddFailureConflicting
	AddFailureProcessing
	AddNeutralRedundant
	AddSuccessPrevote
	AddSuccessPrecommit
)

func (r AddResult) String() string {
	switch r {
	case AddFailureInvalidPoint:
		return "Failure_Invalid_Point"
	case AddFailureInvalidHeight:
		return "Failure_Invalid_Height"
	case AddFailureInvalidHashes:
		return "Failure_Invalid_Hashes"
	case AddFailureConflicting:
		return "Failure_Conflicting"
	case AddFailureProcessing:
		return "Failure_Processing"
	case AddNeutralRedundant:
		return "Neutral_Redundant"
	case AddSuccessPrevote:
		return "Success_Prevote"
	case AddSuccessPrecommit:
		return "Success_Precommit"
	default:
		return fmt.Sprintf("AddResult(%d)", uint8(r))
	}
}

func (r AddResult) IsSuccess() bool {
	return r > AddNeutralRedundant
}

func (r AddResult) IsFailure() bool {
	return r < AddNeutralRedundant
}

// RoundMessageAggregator collects the messages of a single round.
type RoundMessageAggregator interface {
	// Size returns the number of accepted messages.
	Size() int
	FinalizationContext() *FinalizationContext
	RoundContext() *RoundContext
	// ShortHashes returns the short hashes of all accepted messages.
	ShortHashes() []ShortHash
	// UnknownMessages returns accepted messages whose short hash is not in known,
	// bounded by the maximum response size.
	UnknownMessages(known ShortHashSet) []*Message
	Add(msg *Message) AddResult
}

type messageKey struct {
	signer    VotingKey
	isPrevote bool
}

type messageDescriptor struct {
	msg       *Message
	hash      Hash
	shortHash ShortHash
}

type roundMessageAggregator struct {
	logger          Logger
	round           FinalizationRound
	maxResponseSize uint64
	context         *FinalizationContext
	verifier        SignatureVerifier
	roundContext    *RoundContext

	messages map[messageKey]messageDescriptor
	// acceptance order, used to serve messages deterministically
	order []messageKey
}

// NewRoundMessageAggregator creates an aggregator for the messages of round judged by context.
func NewRoundMessageAggregator(
	logger Logger,
	maxResponseSize uint64,
	round FinalizationRound,
	context *FinalizationContext,
	verifier SignatureVerifier,
) RoundMessageAggregator {
	return &roundMessageAggregator{
		logger:          logger,
		round:           round,
		maxResponseSize: maxResponseSize,
		context:         context,
		verifier:        verifier,
		roundContext:    NewRoundContext(context.Weight(), context.Threshold()),
		messages:        make(map[messageKey]messageDescriptor),
	}
}

func (a *roundMessageAggregator) Size() int {
	return len(a.messages)
}

func (a *roundMessageAggregator) FinalizationContext() *FinalizationContext {
	return a.context
}

func (a *roundMessageAggregator) RoundContext() *RoundContext {
	return a.roundContext
}

func (a *roundMessageAggregator) ShortHashes() []ShortHash {
	shortHashes := make([]ShortHash, 0, len(a.order))
	for _, key := range a.order {
		shortHashes = append(shortHashes, a.messages[key].shortHash)
	}
	return shortHashes
}

func (a *roundMessageAggregator) UnknownMessages(known ShortHashSet) []*Message {
	var (
		messages  []*Message
		totalSize uint64
	)
	for _, key := range a.order {
		descriptor := a.messages[key]
		if known.Contains(descriptor.shortHash) {
			continue
		}

		size := uint64(descriptor.msg.Size())
		if totalSize+size > a.maxResponseSize {
			break
		}

		totalSize += size
		messages = append(messages, descriptor.msg)
	}
	return messages
}

func (a *roundMessageAggregator) Add(msg *Message) AddResult {
	isPrevote := StagePrevote == msg.StepIdentifier.Stage
	hashesCount := len(msg.Hashes)
	if hashesCount == 0 || hashesCount > int(a.context.Config().MaxHashesPerPoint) || (!isPrevote && hashesCount != 1) {
		a.logger.Debug("Rejecting message with invalid number of hashes",
			zap.Stringer("step", msg.StepIdentifier), zap.Int("hashes", hashesCount))
		return AddFailureInvalidHashes
	}

	if msg.StepIdentifier.Round() != a.round {
		a.logger.Debug("Rejecting message for another round",
			zap.Stringer("step", msg.StepIdentifier), zap.Stringer("round", a.round))
		return AddFailureInvalidPoint
	}

	if a.context.Height() > msg.LastHeight() {
		a.logger.Debug("Rejecting message below the finalized height",
			zap.Stringer("step", msg.StepIdentifier), zap.Uint64("lastHeight", msg.LastHeight()),
			zap.Uint64("finalizedHeight", a.context.Height()))
		return AddFailureInvalidHeight
	}

	if !a.isWithinVotingSet(msg) {
		a.logger.Debug("Rejecting message spanning voting sets",
			zap.Stringer("step", msg.StepIdentifier), zap.Uint64("height", msg.Height), zap.Int("hashes", hashesCount))
		return AddFailureInvalidHashes
	}

	key := messageKey{signer: msg.Signature.Signer, isPrevote: isPrevote}
	hash := msg.Hash()
	if existing, ok := a.messages[key]; ok {
		if existing.hash == hash {
			return AddNeutralRedundant
		}

		a.logger.Warn("Voter signed conflicting messages",
			zap.Stringer("signer", key.signer), zap.Stringer("step", msg.StepIdentifier))
		return AddFailureConflicting
	}

	weight := a.context.Lookup(msg.Signature.Signer)
	if weight == 0 {
		a.logger.Warn("Rejecting message from ineligible voter",
			zap.Stringer("signer", key.signer), zap.Stringer("step", msg.StepIdentifier))
		return AddFailureProcessing
	}

	if err := msg.Verify(a.verifier); err != nil {
		a.logger.Warn("Rejecting message with invalid signature",
			zap.Stringer("signer", key.signer), zap.Stringer("step", msg.StepIdentifier), zap.Error(err))
		return AddFailureProcessing
	}

	a.messages[key] = messageDescriptor{msg: msg, hash: hash, shortHash: ShortHashOf(hash)}
	a.order = append(a.order, key)

	if isPrevote {
		a.roundContext.AcceptPrevote(msg.Height, msg.Hashes, weight)
		a.logger.Verbo("Accepted prevote", zap.Stringer("signer", key.signer), zap.Stringer("step", msg.StepIdentifier),
			zap.Uint64("height", msg.Height), zap.Int("hashes", hashesCount))
		return AddSuccessPrevote
	}

	a.roundContext.AcceptPrecommit(msg.Height, msg.Hashes[0], weight)
	a.logger.Verbo("Accepted precommit", zap.Stringer("signer", key.signer), zap.Stringer("step", msg.StepIdentifier),
		zap.Uint64("height", msg.Height))
	return AddSuccessPrecommit
}

// isWithinVotingSet checks that the message only names blocks finalized by the voting set of its epoch.
func (a *roundMessageAggregator) isWithinVotingSet(msg *Message) bool {
	grouping := a.context.Config().VotingSetGrouping
	epoch := msg.StepIdentifier.Epoch
	start := VotingSetEndHeight(max(epoch, 1)-1, grouping)
	end := VotingSetEndHeight(epoch, grouping)
	return msg.Height >= start && msg.LastHeight() <= end
}

