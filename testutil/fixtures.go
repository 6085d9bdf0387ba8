// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package testutil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/luxfi/finality"
)

// HashOf derives a distinct hash from a seed.
func HashOf(seed uint64) finality.Hash {
	return finality.Hash(sha3.Sum256(binary.BigEndian.AppendUint64(nil, seed)))
}

// Hashes returns count hashes derived from consecutive seeds starting at first.
func Hashes(first uint64, count int) []finality.Hash {
	hashes := make([]finality.Hash, count)
	for i := range hashes {
		hashes[i] = HashOf(first + uint64(i))
	}
	return hashes
}

// Voter is a deterministic signer with its voting weight.
type Voter struct {
	*finality.Ed25519Signer
	Weight uint64
}

// MakeVoters creates one voter per weight.
func MakeVoters(t testing.TB, weights ...uint64) []Voter {
	voters := make([]Voter, len(weights))
	for i, weight := range weights {
		seed := sha3.Sum256([]byte(fmt.Sprintf("%s/voter-%d", t.Name(), i)))
		signer, err := finality.NewEd25519Signer(seed[:])
		require.NoError(t, err)
		voters[i] = Voter{Ed25519Signer: signer, Weight: weight}
	}
	return voters
}

// Oracle returns a weight oracle over voters.
func Oracle(voters []Voter) *finality.StaticWeightOracle {
	weights := make(map[finality.VotingKey]uint64, len(voters))
	for _, voter := range voters {
		weights[voter.PublicKey()] = voter.Weight
	}
	return finality.NewStaticWeightOracle(weights)
}

// Prevote creates a prevote signed by voter.
func (v Voter) Prevote(t testing.TB, round finality.FinalizationRound, height uint64, hashes []finality.Hash) *finality.Message {
	msg := finality.NewPrevote(round, height, hashes)
	require.NoError(t, msg.Sign(v))
	return msg
}

// Precommit creates a precommit signed by voter.
func (v Voter) Precommit(t testing.TB, round finality.FinalizationRound, height uint64, hash finality.Hash) *finality.Message {
	msg := finality.NewPrecommit(round, height, hash)
	require.NoError(t, msg.Sign(v))
	return msg
}

var _ finality.BlockStorage = (*Chain)(nil)

// Chain is an in-memory block storage. Heights start at 1.
type Chain struct {
	lock   sync.Mutex
	hashes []finality.Hash
}

// NewChain creates a chain of height blocks whose hashes derive from their heights.
func NewChain(height uint64) *Chain {
	return &Chain{hashes: Hashes(1, int(height))}
}

// Grow appends count blocks.
func (c *Chain) Grow(count int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.hashes = append(c.hashes, Hashes(uint64(len(c.hashes))+1, count)...)
}

// HashAt returns the hash of the block at height.
func (c *Chain) HashAt(height uint64) finality.Hash {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.hashes[height-1]
}

func (c *Chain) ChainHeight() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return uint64(len(c.hashes))
}

func (c *Chain) LoadHashesFrom(height uint64, maxHashes uint64) ([]finality.Hash, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if height == 0 || height > uint64(len(c.hashes)) {
		return nil, fmt.Errorf("height %d is not in the chain", height)
	}

	end := min(height-1+maxHashes, uint64(len(c.hashes)))
	return append([]finality.Hash(nil), c.hashes[height-1:end]...), nil
}

var _ finality.ProofStorage = (*InMemProofStorage)(nil)

// InMemProofStorage keeps proofs in memory without checking their order.
type InMemProofStorage struct {
	lock       sync.Mutex
	statistics finality.FinalizationStatistics
	proofs     []*finality.FinalizationProof
	// SaveErr, when set, is returned by SaveProof.
	SaveErr error
}

func NewInMemProofStorage(statistics finality.FinalizationStatistics) *InMemProofStorage {
	return &InMemProofStorage{statistics: statistics}
}

func (s *InMemProofStorage) Statistics() finality.FinalizationStatistics {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.statistics
}

// SetStatistics overrides the statistics without storing a proof.
func (s *InMemProofStorage) SetStatistics(statistics finality.FinalizationStatistics) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.statistics = statistics
}

// Proofs returns the saved proofs in saving order.
func (s *InMemProofStorage) Proofs() []*finality.FinalizationProof {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]*finality.FinalizationProof(nil), s.proofs...)
}

func (s *InMemProofStorage) LoadProof(epoch uint32) (*finality.FinalizationProof, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for i := len(s.proofs) - 1; i >= 0; i-- {
		if s.proofs[i].Round.Epoch == epoch {
			return s.proofs[i], nil
		}
	}
	return nil, finality.ErrProofNotFound
}

func (s *InMemProofStorage) LoadProofAtHeight(height uint64) (*finality.FinalizationProof, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, proof := range s.proofs {
		if proof.Height == height {
			return proof, nil
		}
	}
	return nil, finality.ErrProofNotFound
}

func (s *InMemProofStorage) SaveProof(proof *finality.FinalizationProof) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}

	s.proofs = append(s.proofs, proof)
	s.statistics = proof.Statistics()
	return nil
}

var errNoSignature = errors.New("no signature")

// FailingSigner refuses to sign.
type FailingSigner struct {
	Key finality.VotingKey
}

func (s FailingSigner) PublicKey() finality.VotingKey {
	return s.Key
}

func (FailingSigner) Sign(finality.StepIdentifier, []byte) (finality.Signature, error) {
	return finality.Signature{}, errNoSignature
}
