// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

type VerifyProofResult uint8

const (
	VerifyProofSuccess VerifyProofResult = iota
	VerifyProofFailureInvalidVersion
	VerifyProofFailureInvalidEpoch
	VerifyProofFailureInvalidMessage
	VerifyProofFailureNoPrecommit
	VerifyProofFailureInvalidHeight
	VerifyProofFailureInvalidHash
)

func (r VerifyProofResult) String() string {
	switch r {
	case VerifyProofSuccess:
		return "Success"
	case VerifyProofFailureInvalidVersion:
		return "Failure_Invalid_Version"
	case VerifyProofFailureInvalidEpoch:
		return "Failure_Invalid_Epoch"
	case VerifyProofFailureInvalidMessage:
		return "Failure_Invalid_Message"
	case VerifyProofFailureNoPrecommit:
		return "Failure_No_Precommit"
	case VerifyProofFailureInvalidHeight:
		return "Failure_Invalid_Height"
	case VerifyProofFailureInvalidHash:
		return "Failure_Invalid_Hash"
	default:
		return fmt.Sprintf("VerifyProofResult(%d)", uint8(r))
	}
}

// VerifyFinalizationProof replays the messages of proof against context and checks
// that they finalize exactly the block the proof claims.
func VerifyFinalizationProof(logger Logger, proof *FinalizationProof, context *FinalizationContext, verifier SignatureVerifier) VerifyProofResult {
	if proof.Version != FinalizationProofVersion {
		logger.Debug("Rejecting finalization proof with unsupported version", zap.Uint32("version", proof.Version))
		return VerifyProofFailureInvalidVersion
	}

	if proof.Round.Epoch != context.Epoch() {
		logger.Debug("Rejecting finalization proof of another epoch",
			zap.Stringer("round", proof.Round), zap.Uint32("epoch", context.Epoch()))
		return VerifyProofFailureInvalidEpoch
	}

	aggregator := NewRoundMessageAggregator(logger, math.MaxUint64, proof.Round, context, verifier)
	for _, msg := range proof.Messages() {
		if result := aggregator.Add(msg); result <= AddNeutralRedundant {
			logger.Debug("Rejecting finalization proof holding an invalid message",
				zap.Stringer("round", proof.Round), zap.Stringer("signer", msg.Signature.Signer), zap.Stringer("result", result))
			return VerifyProofFailureInvalidMessage
		}
	}

	bestPrecommit, ok := aggregator.RoundContext().TryFindBestPrecommit()
	if !ok {
		return VerifyProofFailureNoPrecommit
	}

	if bestPrecommit.Height != proof.Height {
		return VerifyProofFailureInvalidHeight
	}

	if bestPrecommit.Hash != proof.Hash {
		return VerifyProofFailureInvalidHash
	}

	return VerifyProofSuccess
}
