// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

type hashTreeNode struct {
	parent    HeightHashPair
	hasParent bool
}

// HashTree tracks parent links between candidate blocks learned from prevote chains.
// Branches may start mid-chain, in which case their first block is a root until
// another branch supplies its parent.
type HashTree struct {
	nodes map[HeightHashPair]hashTreeNode
}

func NewHashTree() *HashTree {
	return &HashTree{
		nodes: make(map[HeightHashPair]hashTreeNode),
	}
}

func (t *HashTree) Size() int {
	return len(t.nodes)
}

func (t *HashTree) Contains(key HeightHashPair) bool {
	_, ok := t.nodes[key]
	return ok
}

// AddBranch registers the consecutive blocks hashes starting at height.
func (t *HashTree) AddBranch(height uint64, hashes []Hash) {
	for i, hash := range hashes {
		key := HeightHashPair{Height: height + uint64(i), Hash: hash}
		node, exists := t.nodes[key]
		if i == 0 {
			if !exists {
				t.nodes[key] = hashTreeNode{}
			}
			continue
		}

		// a parent, once known, is never replaced
		if exists && node.hasParent {
			continue
		}

		t.nodes[key] = hashTreeNode{
			parent:    HeightHashPair{Height: key.Height - 1, Hash: hashes[i-1]},
			hasParent: true,
		}
	}
}

// IsDescendant returns true when child is parent or can reach parent by following parent links.
func (t *HashTree) IsDescendant(parent HeightHashPair, child HeightHashPair) bool {
	if !t.Contains(parent) || !t.Contains(child) {
		return false
	}

	current := child
	for {
		if current == parent {
			return true
		}

		if current.Height <= parent.Height {
			return false
		}

		node := t.nodes[current]
		if !node.hasParent {
			return false
		}
		current = node.parent
	}
}

// FindAncestors returns key followed by each of its known ancestors, nearest first.
// An unknown key has no ancestors.
func (t *HashTree) FindAncestors(key HeightHashPair) []HeightHashPair {
	node, ok := t.nodes[key]
	if !ok {
		return nil
	}

	ancestors := []HeightHashPair{key}
	for node.hasParent {
		ancestors = append(ancestors, node.parent)
		node = t.nodes[node.parent]
	}
	return ancestors
}
