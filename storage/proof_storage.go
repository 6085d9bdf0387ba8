// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v2"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"

	"github.com/luxfi/finality"
)

const defaultCacheSize = 16

var ErrInvalidProof = errors.New("proof cannot be stored")

var _ finality.ProofStorage = (*ProofStorage)(nil)

// ProofStorage persists finalization proofs in badger, indexed by height and epoch.
type ProofStorage struct {
	db    *badger.DB
	codec *proofCodec
	// height -> *finality.FinalizationProof
	cache *lru.Cache

	lock       sync.RWMutex
	statistics finality.FinalizationStatistics
}

// Open opens the proof storage in dir. An empty storage starts at genesis.
func Open(dir string, genesis finality.FinalizationStatistics) (*ProofStorage, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil), genesis)
}

// OpenInMemory opens a proof storage that is lost once closed.
func OpenInMemory(genesis finality.FinalizationStatistics) (*ProofStorage, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), genesis)
}

func open(options badger.Options, genesis finality.FinalizationStatistics) (*ProofStorage, error) {
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("could not open proof database: %w", err)
	}

	s, err := newProofStorage(db, genesis)
	if err != nil {
		return nil, multierror.Append(err, db.Close())
	}
	return s, nil
}

func newProofStorage(db *badger.DB, genesis finality.FinalizationStatistics) (*ProofStorage, error) {
	codec, err := newProofCodec()
	if err != nil {
		return nil, err
	}

	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, err
	}

	s := &ProofStorage{
		db:    db,
		codec: codec,
		cache: cache,
	}

	err = db.View(retrieveStatistics(&s.statistics))
	if errors.Is(err, finality.ErrProofNotFound) {
		s.statistics = genesis
		err = db.Update(insertStatistics(genesis))
	}
	if err != nil {
		return nil, fmt.Errorf("could not load finalization statistics: %w", err)
	}
	return s, nil
}

func (s *ProofStorage) Statistics() finality.FinalizationStatistics {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.statistics
}

// LoadProof returns the last proof saved for epoch.
func (s *ProofStorage) LoadProof(epoch uint32) (*finality.FinalizationProof, error) {
	var height uint64
	if err := s.db.View(lookupEpoch(epoch, &height)); err != nil {
		return nil, err
	}
	return s.LoadProofAtHeight(height)
}

func (s *ProofStorage) LoadProofAtHeight(height uint64) (*finality.FinalizationProof, error) {
	if proof, ok := s.cache.Get(height); ok {
		return proof.(*finality.FinalizationProof), nil
	}

	var blob []byte
	if err := s.db.View(retrieveProof(height, &blob)); err != nil {
		return nil, err
	}

	proof, err := s.codec.decode(blob)
	if err != nil {
		return nil, fmt.Errorf("could not decode proof at height %d: %w", height, err)
	}

	s.cache.Add(height, proof)
	return proof, nil
}

// SaveProof stores proof and makes it the latest one. Proofs must move the finalized
// height forward and stay within the current or the next epoch.
func (s *ProofStorage) SaveProof(proof *finality.FinalizationProof) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	current := s.statistics
	switch {
	case proof.Round.Epoch < current.Round.Epoch:
		return fmt.Errorf("%w: epoch %d is before current epoch %d", ErrInvalidProof, proof.Round.Epoch, current.Round.Epoch)
	case proof.Round.Epoch > current.Round.Epoch+1:
		return fmt.Errorf("%w: epoch %d skips epochs after %d", ErrInvalidProof, proof.Round.Epoch, current.Round.Epoch)
	case proof.Height <= current.Height:
		return fmt.Errorf("%w: height %d is not above finalized height %d", ErrInvalidProof, proof.Height, current.Height)
	}

	statistics := proof.Statistics()
	blob := s.codec.encode(proof)
	err := s.db.Update(func(tx *badger.Txn) error {
		if err := insertProof(proof.Height, blob)(tx); err != nil {
			return err
		}
		if err := indexEpoch(proof.Round.Epoch, proof.Height)(tx); err != nil {
			return err
		}
		return insertStatistics(statistics)(tx)
	})
	if err != nil {
		return fmt.Errorf("could not save proof at height %d: %w", proof.Height, err)
	}

	s.statistics = statistics
	s.cache.Add(proof.Height, proof)
	return nil
}

func (s *ProofStorage) Close() error {
	var result *multierror.Error
	if err := s.codec.close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.db.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
