// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/luxfi/finality"
)

var (
	statisticsKey = []byte("stats")

	proofPrefix = []byte("proof/")
	epochPrefix = []byte("epoch/")
)

const statisticsLen = 4 + 4 + 8 + 32

func proofKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), proofPrefix...), height)
}

func epochKey(epoch uint32) []byte {
	return binary.BigEndian.AppendUint32(append([]byte(nil), epochPrefix...), epoch)
}

func encodeStatistics(statistics finality.FinalizationStatistics) []byte {
	buff := make([]byte, statisticsLen)
	binary.BigEndian.PutUint32(buff[0:], statistics.Round.Epoch)
	binary.BigEndian.PutUint32(buff[4:], statistics.Round.Point)
	binary.BigEndian.PutUint64(buff[8:], statistics.Height)
	copy(buff[16:], statistics.Hash[:])
	return buff
}

func decodeStatistics(buff []byte) (finality.FinalizationStatistics, error) {
	if len(buff) != statisticsLen {
		return finality.FinalizationStatistics{}, fmt.Errorf("statistics are %d bytes, expected %d", len(buff), statisticsLen)
	}

	var statistics finality.FinalizationStatistics
	statistics.Round.Epoch = binary.BigEndian.Uint32(buff[0:])
	statistics.Round.Point = binary.BigEndian.Uint32(buff[4:])
	statistics.Height = binary.BigEndian.Uint64(buff[8:])
	copy(statistics.Hash[:], buff[16:])
	return statistics, nil
}

// set writes val under key, replacing any previous value.
func set(key []byte, val []byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if err := tx.Set(key, val); err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// retrieve reads the value under key into val.
func retrieve(key []byte, val *[]byte) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return finality.ErrProofNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}

		*val, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("could not copy data: %w", err)
		}
		return nil
	}
}

func insertStatistics(statistics finality.FinalizationStatistics) func(*badger.Txn) error {
	return set(statisticsKey, encodeStatistics(statistics))
}

func retrieveStatistics(statistics *finality.FinalizationStatistics) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		var buff []byte
		if err := retrieve(statisticsKey, &buff)(tx); err != nil {
			return err
		}

		decoded, err := decodeStatistics(buff)
		if err != nil {
			return err
		}
		*statistics = decoded
		return nil
	}
}

func insertProof(height uint64, blob []byte) func(*badger.Txn) error {
	return set(proofKey(height), blob)
}

func retrieveProof(height uint64, blob *[]byte) func(*badger.Txn) error {
	return retrieve(proofKey(height), blob)
}

// indexEpoch records height as the last finalized height of epoch.
func indexEpoch(epoch uint32, height uint64) func(*badger.Txn) error {
	return set(epochKey(epoch), binary.BigEndian.AppendUint64(nil, height))
}

func lookupEpoch(epoch uint32, height *uint64) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		var buff []byte
		if err := retrieve(epochKey(epoch), &buff)(tx); err != nil {
			return err
		}

		if len(buff) != 8 {
			return fmt.Errorf("epoch index of %d is %d bytes", epoch, len(buff))
		}
		*height = binary.BigEndian.Uint64(buff)
		return nil
	}
}
