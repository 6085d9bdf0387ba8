// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"fmt"

	"go.uber.org/zap"
)

// CreateFinalizer returns an action persisting a proof for the most recent block
// with a precommit quorum.
func CreateFinalizer(logger Logger, aggregator *MultiRoundMessageAggregator, subscriber Subscriber, proofStorage ProofStorage) func() error {
	return func() error {
		view := aggregator.View()
		best := view.TryFindBestPrecommit()
		view.Release()

		if best.IsEmpty() {
			return nil
		}

		if best.Target.Height == proofStorage.Statistics().Height {
			return nil
		}

		statistics := FinalizationStatistics{Round: best.Round, Height: best.Target.Height, Hash: best.Target.Hash}
		proof := CreateFinalizationProof(statistics, best.Proof)
		if err := proofStorage.SaveProof(proof); err != nil {
			return fmt.Errorf("failed to save finalization proof of round %s: %w", best.Round, err)
		}

		logger.Info("Finalized block",
			zap.Stringer("round", best.Round), zap.Uint64("height", best.Target.Height), zap.Stringer("hash", best.Target.Hash))
		subscriber.NotifyFinalizedBlock(best.Round, best.Target.Height, best.Target.Hash)

		modifier := aggregator.Modifier()
		defer modifier.Release()

		modifier.PruneBefore(best.Round.Epoch - 1)
		return nil
	}
}
