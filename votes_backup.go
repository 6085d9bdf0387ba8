// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/luxfi/finality/record"
	"github.com/luxfi/finality/wal"
)

const (
	VotesBackupDirName = "votes_backup"

	votesBackupExtension = ".wal"
)

// epochLogs stores one log per epoch.
type epochLogs interface {
	open(epoch uint32) (wal.Log, error)
	exists(epoch uint32) bool
	epochs() ([]uint32, error)
	remove(epoch uint32) error
}

// VotesBackup keeps every message sent by the local voter, one log per epoch.
type VotesBackup struct {
	logs epochLogs

	lock  sync.Mutex
	epoch uint32
	log   wal.Log
}

// NewVotesBackup keeps the logs under dataDir.
func NewVotesBackup(dataDir string) (*VotesBackup, error) {
	dir := filepath.Join(dataDir, VotesBackupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &VotesBackup{logs: fileLogs(dir)}, nil
}

// NewMemVotesBackup keeps the logs in memory. They do not outlive the process.
func NewMemVotesBackup() *VotesBackup {
	return &VotesBackup{logs: memLogs{}}
}

// Append saves msg to the log of its epoch.
func (b *VotesBackup) Append(msg *Message) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	epoch := msg.StepIdentifier.Epoch
	if b.log == nil || b.epoch != epoch {
		if err := b.closeLog(); err != nil {
			return err
		}

		log, err := b.logs.open(epoch)
		if err != nil {
			return err
		}
		b.log = log
		b.epoch = epoch
	}

	return b.log.Append(messageRecord(msg))
}

// Load returns the messages saved for epoch.
func (b *VotesBackup) Load(epoch uint32) ([]*Message, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if !b.logs.exists(epoch) {
		return nil, nil
	}

	log, err := b.logs.open(epoch)
	if err != nil {
		return nil, err
	}
	defer log.Close()

	records, err := log.ReadAll()
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(records))
	for _, r := range records {
		var msg Message
		if err := msg.FromBytes(r.Payload); err != nil {
			return nil, fmt.Errorf("failed to parse backed up vote of epoch %d: %w", epoch, err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// Prune removes the logs of every epoch before epoch.
func (b *VotesBackup) Prune(epoch uint32) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	epochs, err := b.logs.epochs()
	if err != nil {
		return err
	}

	for _, logEpoch := range epochs {
		if logEpoch >= epoch {
			continue
		}

		if b.log != nil && b.epoch == logEpoch {
			if err := b.closeLog(); err != nil {
				return err
			}
		}

		if err := b.logs.remove(logEpoch); err != nil {
			return err
		}
	}
	return nil
}

func (b *VotesBackup) Close() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.closeLog()
}

func (b *VotesBackup) closeLog() error {
	if b.log == nil {
		return nil
	}

	err := b.log.Close()
	b.log = nil
	return err
}

func messageRecord(msg *Message) *record.Record {
	recordType := record.PrevoteRecordType
	if msg.StepIdentifier.Stage == StagePrecommit {
		recordType = record.PrecommitRecordType
	}
	return record.New(recordType, msg.Bytes())
}

type fileLogs string

func (dir fileLogs) fileName(epoch uint32) string {
	return filepath.Join(string(dir), strconv.FormatUint(uint64(epoch), 10)+votesBackupExtension)
}

func (dir fileLogs) open(epoch uint32) (wal.Log, error) {
	return wal.New(dir.fileName(epoch))
}

func (dir fileLogs) exists(epoch uint32) bool {
	_, err := os.Stat(dir.fileName(epoch))
	return !errors.Is(err, fs.ErrNotExist)
}

func (dir fileLogs) epochs() ([]uint32, error) {
	entries, err := os.ReadDir(string(dir))
	if err != nil {
		return nil, err
	}

	var epochs []uint32
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), votesBackupExtension)
		if !ok {
			continue
		}
		epoch, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			continue
		}
		epochs = append(epochs, uint32(epoch))
	}
	return epochs, nil
}

func (dir fileLogs) remove(epoch uint32) error {
	return os.Remove(dir.fileName(epoch))
}

type memLogs map[uint32]*wal.InMemWAL

func (m memLogs) open(epoch uint32) (wal.Log, error) {
	log, ok := m[epoch]
	if !ok {
		log = wal.NewMemWAL()
		m[epoch] = log
	}
	return log, nil
}

func (m memLogs) exists(epoch uint32) bool {
	_, ok := m[epoch]
	return ok
}

func (m memLogs) epochs() ([]uint32, error) {
	epochs := make([]uint32, 0, len(m))
	for epoch := range m {
		epochs = append(epochs, epoch)
	}
	return epochs, nil
}

func (m memLogs) remove(epoch uint32) error {
	delete(m, epoch)
	return nil
}
