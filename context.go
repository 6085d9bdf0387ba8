// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"math/bits"
)

// FinalizationContext is the immutable view of a voting set used to judge messages of one epoch.
type FinalizationContext struct {
	epoch  uint32
	height uint64
	config Config
	oracle WeightOracle
	weight uint64
}

// NewFinalizationContext creates a context for epoch. height is the last block finalized
// by the previous voting set; messages ending below it are rejected.
func NewFinalizationContext(epoch uint32, height uint64, config Config, oracle WeightOracle) *FinalizationContext {
	return &FinalizationContext{
		epoch:  epoch,
		height: height,
		config: config,
		oracle: oracle,
		weight: oracle.TotalWeight(epoch),
	}
}

func (c *FinalizationContext) Epoch() uint32 {
	return c.epoch
}

func (c *FinalizationContext) Height() uint64 {
	return c.height
}

func (c *FinalizationContext) Config() Config {
	return c.config
}

// Weight returns the total weight of all eligible voters.
func (c *FinalizationContext) Weight() uint64 {
	return c.weight
}

// Threshold returns the weight a candidate needs to reach quorum, Weight * Threshold / Size.
func (c *FinalizationContext) Threshold() uint64 {
	hi, lo := bits.Mul64(c.weight, c.config.Threshold)
	quotient, _ := bits.Div64(hi, lo, c.config.Size)
	return quotient
}

func (c *FinalizationContext) Lookup(key VotingKey) uint64 {
	return c.oracle.Lookup(c.epoch, key)
}

func (c *FinalizationContext) IsEligibleVoter(key VotingKey) bool {
	return c.Lookup(key) > 0
}

// FinalizationContextFactory creates the context of the voting set of an epoch.
type FinalizationContextFactory func(epoch uint32) *FinalizationContext

// NewFinalizationContextFactory creates contexts anchored at the end of the previous voting set.
func NewFinalizationContextFactory(config Config, oracle WeightOracle) FinalizationContextFactory {
	return func(epoch uint32) *FinalizationContext {
		height := VotingSetEndHeight(max(epoch, 1)-1, config.VotingSetGrouping)
		return NewFinalizationContext(epoch, height, config, oracle)
	}
}

var _ WeightOracle = (*StaticWeightOracle)(nil)

// StaticWeightOracle is a WeightOracle whose voter set does not change across epochs.
type StaticWeightOracle struct {
	weights map[VotingKey]uint64
	total   uint64
}

func NewStaticWeightOracle(weights map[VotingKey]uint64) *StaticWeightOracle {
	o := &StaticWeightOracle{
		weights: make(map[VotingKey]uint64, len(weights)),
	}
	for key, weight := range weights {
		if weight == 0 {
			continue
		}
		o.weights[key] = weight
		o.total += weight
	}
	return o
}

func (o *StaticWeightOracle) Lookup(_ uint32, key VotingKey) uint64 {
	return o.weights[key]
}

func (o *StaticWeightOracle) TotalWeight(uint32) uint64 {
	return o.total
}
