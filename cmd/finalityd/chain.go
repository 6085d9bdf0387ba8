// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/finality"
)

var _ finality.BlockStorage = (*chain)(nil)

// chain is a block storage shared by every simulated node. Blocks start at height 1.
type chain struct {
	lock   sync.RWMutex
	hashes []finality.Hash
}

func newChain() *chain {
	c := &chain{}
	c.grow()
	return c
}

func (c *chain) grow() {
	c.lock.Lock()
	defer c.lock.Unlock()

	height := uint64(len(c.hashes)) + 1
	c.hashes = append(c.hashes, finality.Hash(sha3.Sum256(binary.BigEndian.AppendUint64(nil, height))))
}

func (c *chain) ChainHeight() uint64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return uint64(len(c.hashes))
}

func (c *chain) LoadHashesFrom(height uint64, maxHashes uint64) ([]finality.Hash, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	chainHeight := uint64(len(c.hashes))
	if height == 0 || height > chainHeight {
		return nil, fmt.Errorf("height %d is outside of chain [1, %d]", height, chainHeight)
	}

	end := min(height-1+maxHashes, chainHeight)
	return append([]finality.Hash(nil), c.hashes[height-1:end]...), nil
}
