// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package record

// CurrentVersion is the version of every record written by this node.
const CurrentVersion uint8 = 1

const (
	UndefinedRecordType uint16 = iota
	VotingStatusRecordType
	PrevoteRecordType
	PrecommitRecordType
	ProofRecordType
)
