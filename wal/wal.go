// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/luxfi/finality/record"
)

const (
	WalFlags       = os.O_APPEND | os.O_CREATE | os.O_RDWR
	WalPermissions = 0o666
)

// Log is an append-only sequence of records.
type Log interface {
	Append(r *record.Record) error
	ReadAll() ([]record.Record, error)
	Truncate() error
	Close() error
}

var (
	_ Log = (*WriteAheadLog)(nil)
	_ Log = (*InMemWAL)(nil)
)

type WriteAheadLog struct {
	lock sync.Mutex
	file *os.File
}

// New opens a write ahead log file, creating one if necessary.
// Call Close() on the WriteAheadLog to ensure the file is closed after use.
func New(fileName string) (*WriteAheadLog, error) {
	file, err := os.OpenFile(fileName, WalFlags, WalPermissions)
	if err != nil {
		return nil, err
	}

	return &WriteAheadLog{
		file: file,
	}, nil
}

// Append writes r at the end of the log and flushes it to persistent storage.
func (w *WriteAheadLog) Append(r *record.Record) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if _, err := w.file.Write(r.Bytes()); err != nil {
		return err
	}

	return w.file.Sync()
}

// ReadAll returns every intact record. A corrupted tail is cut off the file.
func (w *WriteAheadLog) ReadAll() ([]record.Record, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to start %w", err)
	}

	fileInfo, err := w.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("error getting file info %w", err)
	}

	var (
		records []record.Record
		offset  int64
	)
	for offset < fileInfo.Size() {
		var r record.Record
		n, err := r.FromBytes(w.file)
		if err != nil {
			return records, w.truncateAt(offset)
		}

		offset += int64(n)
		records = append(records, r)
	}

	return records, nil
}

// Truncate removes every record of the log.
func (w *WriteAheadLog) Truncate() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.truncateAt(0)
}

func (w *WriteAheadLog) truncateAt(offset int64) error {
	// truncate call is atomic. Ref https://cgi.cse.unsw.edu.au/~cs3231/18s1/os161/man/syscall/ftruncate.html
	if err := w.file.Truncate(offset); err != nil {
		return err
	}

	return w.file.Sync()
}

func (w *WriteAheadLog) Close() error {
	return w.file.Close()
}
