// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wal

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/luxfi/finality/record"
)

// InMemWAL is a Log kept in memory, serialized the same way as the file log.
type InMemWAL struct {
	lock sync.Mutex
	bb   bytes.Buffer
}

func NewMemWAL() *InMemWAL {
	return &InMemWAL{}
}

func (w *InMemWAL) Append(r *record.Record) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	_, err := w.bb.Write(r.Bytes())
	return err
}

func (w *InMemWAL) ReadAll() ([]record.Record, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	reader := bytes.NewReader(w.bb.Bytes())
	var records []record.Record
	for reader.Len() > 0 {
		var r record.Record
		if _, err := r.FromBytes(reader); err != nil {
			return nil, fmt.Errorf("failed reading in-memory record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (w *InMemWAL) Truncate() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.bb.Reset()
	return nil
}

func (*InMemWAL) Close() error {
	return nil
}
