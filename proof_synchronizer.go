// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// InteractionResult is the outcome of one synchronization attempt with a peer.
type InteractionResult uint8

const (
	InteractionSuccess InteractionResult = iota
	InteractionNeutral
	InteractionFailure
)

func (r InteractionResult) String() string {
	switch r {
	case InteractionSuccess:
		return "Success"
	case InteractionNeutral:
		return "Neutral"
	case InteractionFailure:
		return "Failure"
	default:
		return fmt.Sprintf("InteractionResult(%d)", uint8(r))
	}
}

var errInteractionFailed = errors.New("proof synchronization failed")

// RemoteProofAPI is the view of the proofs stored by a peer.
type RemoteProofAPI interface {
	FinalizationStatistics(ctx context.Context) (FinalizationStatistics, error)
	ProofAt(ctx context.Context, epoch uint32) (*FinalizationProof, error)
}

// ProofValidator judges a proof received from a peer.
type ProofValidator func(proof *FinalizationProof) VerifyProofResult

// ProofSynchronizer pulls the proof of the next unfinalized epoch from peers.
type ProofSynchronizer struct {
	logger                    Logger
	grouping                  uint64
	unfinalizedBlocksDuration uint64
	blockStorage              BlockStorage
	proofStorage              ProofStorage
	validate                  ProofValidator
}

// NewProofSynchronizer creates a synchronizer. With a zero unfinalizedBlocksDuration a proof is
// requested once the local chain passes the end of the next voting set; otherwise once that many
// blocks are unfinalized.
func NewProofSynchronizer(
	logger Logger,
	grouping uint64,
	unfinalizedBlocksDuration uint64,
	blockStorage BlockStorage,
	proofStorage ProofStorage,
	validate ProofValidator,
) *ProofSynchronizer {
	return &ProofSynchronizer{
		logger:                    logger,
		grouping:                  grouping,
		unfinalizedBlocksDuration: unfinalizedBlocksDuration,
		blockStorage:              blockStorage,
		proofStorage:              proofStorage,
		validate:                  validate,
	}
}

func (s *ProofSynchronizer) Synchronize(ctx context.Context, api RemoteProofAPI) InteractionResult {
	local := s.proofStorage.Statistics()
	requestEpoch := EpochForHeight(local.Height+1, s.grouping)
	if !s.shouldRequest(requestEpoch, local.Height) {
		return InteractionNeutral
	}

	remote, err := api.FinalizationStatistics(ctx)
	if err != nil {
		s.logger.Debug("Could not fetch remote finalization statistics", zap.Error(err))
		return InteractionFailure
	}

	if remote.Round.Epoch < requestEpoch || remote.Height <= local.Height {
		return InteractionNeutral
	}

	proof, err := api.ProofAt(ctx, requestEpoch)
	if err != nil {
		s.logger.Debug("Could not fetch remote finalization proof", zap.Uint32("epoch", requestEpoch), zap.Error(err))
		return InteractionFailure
	}

	if proof == nil {
		s.logger.Warn("Peer returned no finalization proof", zap.Uint32("epoch", requestEpoch))
		return InteractionFailure
	}

	if proof.Round.Epoch != requestEpoch || proof.Height <= local.Height {
		s.logger.Warn("Peer returned an unexpected finalization proof",
			zap.Uint32("epoch", requestEpoch), zap.Stringer("round", proof.Round), zap.Uint64("height", proof.Height))
		return InteractionFailure
	}

	if result := s.validate(proof); result != VerifyProofSuccess {
		s.logger.Warn("Peer returned an invalid finalization proof",
			zap.Stringer("round", proof.Round), zap.Stringer("result", result))
		return InteractionFailure
	}

	if err := s.proofStorage.SaveProof(proof); err != nil {
		s.logger.Error("Could not save synchronized finalization proof", zap.Stringer("round", proof.Round), zap.Error(err))
		return InteractionFailure
	}

	s.logger.Info("Synchronized finalization proof", zap.Stringer("round", proof.Round), zap.Uint64("height", proof.Height))
	return InteractionSuccess
}

func (s *ProofSynchronizer) shouldRequest(requestEpoch uint32, finalizedHeight uint64) bool {
	chainHeight := s.blockStorage.ChainHeight()
	if s.unfinalizedBlocksDuration == 0 {
		return chainHeight > VotingSetEndHeight(requestEpoch, s.grouping)
	}
	return chainHeight >= finalizedHeight && chainHeight-finalizedHeight >= s.unfinalizedBlocksDuration
}

// ProofSyncDriver walks through peers until one of them either supplies a proof or
// has nothing newer to offer. Failing peers are retried with exponential backoff.
type ProofSyncDriver struct {
	logger       Logger
	synchronizer *ProofSynchronizer
	peers        func() []RemoteProofAPI
	retryBase    time.Duration
	maxRetries   uint64
	observe      func(InteractionResult)
}

// NewProofSyncDriver creates a driver. observe may be nil.
func NewProofSyncDriver(
	logger Logger,
	synchronizer *ProofSynchronizer,
	peers func() []RemoteProofAPI,
	retryBase time.Duration,
	maxRetries uint64,
	observe func(InteractionResult),
) *ProofSyncDriver {
	return &ProofSyncDriver{
		logger:       logger,
		synchronizer: synchronizer,
		peers:        peers,
		retryBase:    retryBase,
		maxRetries:   maxRetries,
		observe:      observe,
	}
}

func (d *ProofSyncDriver) Sync(ctx context.Context) (InteractionResult, error) {
	for i, peer := range d.peers() {
		backoff := retry.WithMaxRetries(d.maxRetries, retry.NewExponential(d.retryBase))

		var result InteractionResult
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			result = d.synchronizer.Synchronize(ctx, peer)
			if d.observe != nil {
				d.observe(result)
			}
			if result == InteractionFailure {
				return retry.RetryableError(errInteractionFailed)
			}
			return nil
		})
		if err == nil {
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return InteractionFailure, ctxErr
		}

		d.logger.Debug("Giving up on peer", zap.Int("peer", i), zap.Error(err))
	}

	return InteractionFailure, nil
}

var _ RemoteProofAPI = ProofStorageAPI{}

// ProofStorageAPI serves the proofs of a local storage to peers.
type ProofStorageAPI struct {
	Storage ProofStorage
}

func (a ProofStorageAPI) FinalizationStatistics(context.Context) (FinalizationStatistics, error) {
	return a.Storage.Statistics(), nil
}

func (a ProofStorageAPI) ProofAt(_ context.Context, epoch uint32) (*FinalizationProof, error) {
	return a.Storage.LoadProof(epoch)
}
