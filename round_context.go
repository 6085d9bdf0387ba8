// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"github.com/google/btree"
)

const candidateTreeDegree = 16

// Weights is the vote weight collected by a single candidate within a round.
type Weights struct {
	Prevote   uint64
	Precommit uint64
}

type candidate struct {
	key     HeightHashPair
	weights Weights
}

func (c *candidate) Less(other *candidate) bool {
	return c.key.Less(other.key)
}

// RoundContext is the weighted voting ledger of a single finalization round.
type RoundContext struct {
	totalWeight uint64
	threshold   uint64

	tree       *HashTree
	candidates *btree.BTreeG[*candidate]

	// precommits whose target has not yet been announced by any prevote
	pendingPrecommits         map[HeightHashPair]uint64
	cumulativePrecommitWeight uint64
}

func NewRoundContext(totalWeight uint64, threshold uint64) *RoundContext {
	return &RoundContext{
		totalWeight:       totalWeight,
		threshold:         threshold,
		tree:              NewHashTree(),
		candidates:        btree.NewG(candidateTreeDegree, (*candidate).Less),
		pendingPrecommits: make(map[HeightHashPair]uint64),
	}
}

func (c *RoundContext) TotalWeight() uint64 {
	return c.totalWeight
}

func (c *RoundContext) Threshold() uint64 {
	return c.threshold
}

// Size returns the number of candidates that received at least one prevote.
func (c *RoundContext) Size() int {
	return c.candidates.Len()
}

func (c *RoundContext) Weights(key HeightHashPair) Weights {
	item, ok := c.candidates.Get(&candidate{key: key})
	if !ok {
		return Weights{}
	}
	return item.weights
}

func (c *RoundContext) IsDescendant(parent HeightHashPair, child HeightHashPair) bool {
	return c.tree.IsDescendant(parent, child)
}

// AcceptPrevote adds weight to every block of the prevoted chain and resolves
// precommits that were waiting for one of those blocks.
func (c *RoundContext) AcceptPrevote(height uint64, hashes []Hash, weight uint64) {
	c.tree.AddBranch(height, hashes)

	for i, hash := range hashes {
		key := HeightHashPair{Height: height + uint64(i), Hash: hash}
		c.candidate(key).weights.Prevote += weight
	}

	for i, hash := range hashes {
		key := HeightHashPair{Height: height + uint64(i), Hash: hash}
		pendingWeight, ok := c.pendingPrecommits[key]
		if !ok {
			continue
		}

		delete(c.pendingPrecommits, key)
		c.applyPrecommit(key, pendingWeight)
	}
}

// AcceptPrecommit adds weight to the precommitted block and all of its ancestors.
// When the block is not yet known the weight is held back until a prevote names it.
func (c *RoundContext) AcceptPrecommit(height uint64, hash Hash, weight uint64) {
	key := HeightHashPair{Height: height, Hash: hash}
	if !c.tree.Contains(key) {
		c.pendingPrecommits[key] += weight
		return
	}

	c.applyPrecommit(key, weight)
}

func (c *RoundContext) applyPrecommit(key HeightHashPair, weight uint64) {
	for _, ancestor := range c.tree.FindAncestors(key) {
		c.candidate(ancestor).weights.Precommit += weight
	}

	c.cumulativePrecommitWeight += weight
}

func (c *RoundContext) candidate(key HeightHashPair) *candidate {
	if item, ok := c.candidates.Get(&candidate{key: key}); ok {
		return item
	}

	item := &candidate{key: key}
	c.candidates.ReplaceOrInsert(item)
	return item
}

// TryFindBestPrevote returns the greatest candidate with a prevote quorum.
func (c *RoundContext) TryFindBestPrevote() (HeightHashPair, bool) {
	return c.findGreatest(func(weights Weights) bool {
		return weights.Prevote >= c.threshold
	})
}

// TryFindBestPrecommit returns the greatest candidate with both a prevote and a precommit quorum.
func (c *RoundContext) TryFindBestPrecommit() (HeightHashPair, bool) {
	return c.findGreatest(func(weights Weights) bool {
		return weights.Prevote >= c.threshold && weights.Precommit >= c.threshold
	})
}

func (c *RoundContext) findGreatest(predicate func(Weights) bool) (HeightHashPair, bool) {
	var (
		best  HeightHashPair
		found bool
	)
	c.candidates.Descend(func(item *candidate) bool {
		if !predicate(item.weights) {
			return true
		}

		best = item.key
		found = true
		return false
	})
	return best, found
}

// TryFindEstimate returns the greatest ancestor of the best prevote that can still
// collect a precommit quorum.
func (c *RoundContext) TryFindEstimate() (HeightHashPair, bool) {
	bestPrevote, ok := c.TryFindBestPrevote()
	if !ok {
		return HeightHashPair{}, false
	}

	return c.findEstimate(bestPrevote)
}

func (c *RoundContext) findEstimate(bestPrevote HeightHashPair) (HeightHashPair, bool) {
	for _, key := range c.tree.FindAncestors(bestPrevote) {
		if c.canReachPrecommitThreshold(c.Weights(key)) {
			return key, true
		}
	}
	return HeightHashPair{}, false
}

// IsCompletable returns true when no further vote can move the estimate of this round.
func (c *RoundContext) IsCompletable() bool {
	bestPrevote, ok := c.TryFindBestPrevote()
	if !ok {
		return false
	}

	estimate, ok := c.findEstimate(bestPrevote)
	if !ok || estimate != bestPrevote {
		return true
	}

	completable := true
	pivot := &candidate{key: HeightHashPair{Height: bestPrevote.Height + 1}}
	c.candidates.AscendGreaterOrEqual(pivot, func(item *candidate) bool {
		if !c.tree.IsDescendant(bestPrevote, item.key) {
			return true
		}

		if c.canReachPrecommitThreshold(item.weights) {
			completable = false
			return false
		}
		return true
	})
	return completable
}

func (c *RoundContext) canReachPrecommitThreshold(weights Weights) bool {
	outstanding := c.totalWeight - min(c.cumulativePrecommitWeight, c.totalWeight)
	return weights.Precommit+outstanding >= c.threshold
}
