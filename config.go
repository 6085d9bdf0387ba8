// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid finalization configuration")

type Config struct {
	// Size is the denominator of the voting threshold.
	Size uint64 `mapstructure:"size"`
	// Threshold is the numerator of the voting threshold.
	Threshold uint64 `mapstructure:"threshold"`
	// StepDuration is the time a voter waits in each stage before voting
	// on a round that is not yet completable.
	StepDuration time.Duration `mapstructure:"step-duration"`
	// MessageSynchronizationMaxResponseSize bounds the bytes of messages returned to a peer.
	MessageSynchronizationMaxResponseSize uint64 `mapstructure:"message-synchronization-max-response-size"`
	// MaxHashesPerPoint bounds the number of hashes in a prevote.
	MaxHashesPerPoint uint32 `mapstructure:"max-hashes-per-point"`
	// PrevoteBlocksMultiple aligns the end of prevoted chains.
	PrevoteBlocksMultiple uint16 `mapstructure:"prevote-blocks-multiple"`
	// UnfinalizedBlocksDuration is the number of unfinalized blocks tolerated before
	// proofs are pulled from peers. Zero pulls only complete epochs.
	UnfinalizedBlocksDuration uint64 `mapstructure:"unfinalized-blocks-duration"`
	// VotingSetGrouping is the number of blocks finalized by each voting set.
	VotingSetGrouping uint64 `mapstructure:"voting-set-grouping"`
	// EnableRevoteOnBoot resumes voting after the last stored proof instead of the
	// persisted voting status.
	EnableRevoteOnBoot bool `mapstructure:"enable-revote-on-boot"`
	// EnableVotesBackup persists every message this node sends.
	EnableVotesBackup bool `mapstructure:"enable-votes-backup"`
}

func DefaultConfig() Config {
	return Config{
		Size:                                  10_000,
		Threshold:                             6_700,
		StepDuration:                          4 * time.Minute,
		MessageSynchronizationMaxResponseSize: 20 * 1024 * 1024,
		MaxHashesPerPoint:                     256,
		PrevoteBlocksMultiple:                 4,
		UnfinalizedBlocksDuration:             0,
		VotingSetGrouping:                     720,
		EnableRevoteOnBoot:                    false,
		EnableVotesBackup:                     true,
	}
}

func (c Config) Verify() error {
	switch {
	case c.Size == 0:
		return fmt.Errorf("%w: size must be positive", ErrInvalidConfig)
	case c.Threshold == 0 || c.Threshold > c.Size:
		return fmt.Errorf("%w: threshold %d must be in (0, %d]", ErrInvalidConfig, c.Threshold, c.Size)
	case c.MaxHashesPerPoint == 0:
		return fmt.Errorf("%w: max hashes per point must be positive", ErrInvalidConfig)
	case c.PrevoteBlocksMultiple == 0:
		return fmt.Errorf("%w: prevote blocks multiple must be positive", ErrInvalidConfig)
	case c.VotingSetGrouping == 0:
		return fmt.Errorf("%w: voting set grouping must be positive", ErrInvalidConfig)
	case c.VotingSetGrouping%uint64(c.PrevoteBlocksMultiple) != 0:
		return fmt.Errorf("%w: voting set grouping %d is not a multiple of %d", ErrInvalidConfig, c.VotingSetGrouping, c.PrevoteBlocksMultiple)
	case c.MessageSynchronizationMaxResponseSize == 0:
		return fmt.Errorf("%w: max response size must be positive", ErrInvalidConfig)
	default:
		return nil
	}
}
