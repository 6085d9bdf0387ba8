// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"go.uber.org/zap"
)

// PrevoteChainSaver is told about the chain named by every prevote the local voter creates.
type PrevoteChainSaver func(round FinalizationRound, height uint64, count int)

type messageFactory struct {
	logger            Logger
	config            Config
	blockStorage      BlockStorage
	proofStorage      ProofStorage
	signer            Signer
	prevoteChainSaver PrevoteChainSaver
}

// NewMessageFactory creates messages signed by signer. prevoteChainSaver may be nil.
func NewMessageFactory(
	logger Logger,
	config Config,
	blockStorage BlockStorage,
	proofStorage ProofStorage,
	signer Signer,
	prevoteChainSaver PrevoteChainSaver,
) MessageFactory {
	return &messageFactory{
		logger:            logger,
		config:            config,
		blockStorage:      blockStorage,
		proofStorage:      proofStorage,
		signer:            signer,
		prevoteChainSaver: prevoteChainSaver,
	}
}

func (f *messageFactory) CreatePrevote(round FinalizationRound) *Message {
	statistics := f.proofStorage.Statistics()
	chainHeight := f.blockStorage.ChainHeight()

	// the local chain is missing finalized blocks, so only the finalized block can be named
	if chainHeight < statistics.Height {
		f.savePrevoteChain(round, statistics.Height, 0)
		return f.sign(NewPrevote(round, statistics.Height, []Hash{statistics.Hash}))
	}

	end := f.prevoteEndHeight(round.Epoch, statistics.Height, chainHeight)
	count := end - statistics.Height + 1
	hashes, err := f.blockStorage.LoadHashesFrom(statistics.Height, count)
	if err != nil || uint64(len(hashes)) != count {
		f.logger.Warn("Could not load hashes to prevote",
			zap.Stringer("round", round), zap.Uint64("height", statistics.Height), zap.Uint64("count", count), zap.Error(err))
		return nil
	}

	f.savePrevoteChain(round, statistics.Height, len(hashes))
	return f.sign(NewPrevote(round, statistics.Height, hashes))
}

func (f *messageFactory) savePrevoteChain(round FinalizationRound, height uint64, count int) {
	if f.prevoteChainSaver != nil {
		f.prevoteChainSaver(round, height, count)
	}
}

func (f *messageFactory) CreatePrecommit(round FinalizationRound, height uint64, hash Hash) *Message {
	return f.sign(NewPrecommit(round, height, hash))
}

// prevoteEndHeight picks the last height to prevote for. The chain stays within
// the voting set of epoch, holds at most MaxHashesPerPoint hashes and ends on a
// multiple of PrevoteBlocksMultiple whenever it extends past lastFinalized.
func (f *messageFactory) prevoteEndHeight(epoch uint32, lastFinalized uint64, chainHeight uint64) uint64 {
	multiple := uint64(f.config.PrevoteBlocksMultiple)

	var end uint64
	if chainHeight > multiple {
		end = chainHeight - multiple
	}

	end = min(end, lastFinalized+uint64(f.config.MaxHashesPerPoint)-1)
	end -= end % multiple
	end = min(end, VotingSetEndHeight(epoch, f.config.VotingSetGrouping))
	return max(end, lastFinalized)
}

func (f *messageFactory) sign(msg *Message) *Message {
	if err := msg.Sign(f.signer); err != nil {
		f.logger.Warn("Could not sign finalization message", zap.Stringer("step", msg.StepIdentifier), zap.Error(err))
		return nil
	}
	return msg
}
