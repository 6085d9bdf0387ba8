// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
)

const (
	recordVersionLen  = 1
	recordTypeLen     = 2
	recordSizeLen     = 4
	recordChecksumLen = 8

	recordHeaderLen = recordVersionLen + recordTypeLen + recordSizeLen

	recordVersionIndex  = 0
	recordTypeOffset    = recordVersionIndex + recordVersionLen
	recordSizeOffset    = recordTypeOffset + recordTypeLen
	recordPayloadOffset = recordSizeOffset + recordSizeLen

	// finalization messages and proofs stay far below this
	maxPayloadSize = 16 << 20
)

var (
	ErrInvalidCRC      = errors.New("invalid CRC checksum")
	ErrPayloadTooLarge = errors.New("record payload too large")

	crcTable = crc64.MakeTable(crc64.ECMA)
)

// Record is a versioned, typed and check-summed payload.
type Record struct {
	Version uint8
	Type    uint16
	Payload []byte
}

// New creates a record of the current version.
func New(recordType uint16, payload []byte) *Record {
	return &Record{
		Version: CurrentVersion,
		Type:    recordType,
		Payload: payload,
	}
}

// Size returns the number of bytes of the serialized record.
func (r *Record) Size() int {
	return recordHeaderLen + len(r.Payload) + recordChecksumLen
}

func (r *Record) Bytes() []byte {
	checksumOffset := recordPayloadOffset + len(r.Payload)
	buff := make([]byte, checksumOffset, r.Size())

	buff[recordVersionIndex] = r.Version
	binary.BigEndian.PutUint16(buff[recordTypeOffset:], r.Type)
	binary.BigEndian.PutUint32(buff[recordSizeOffset:], uint32(len(r.Payload)))
	copy(buff[recordPayloadOffset:], r.Payload)

	return binary.BigEndian.AppendUint64(buff, crc64.Checksum(buff, crcTable))
}

// FromBytes reads one record from in and returns the number of bytes consumed.
func (r *Record) FromBytes(in io.Reader) (int, error) {
	header := make([]byte, recordHeaderLen)
	if _, err := io.ReadFull(in, header); err != nil {
		return 0, err
	}

	payloadLen := binary.BigEndian.Uint32(header[recordSizeOffset:])
	if payloadLen > maxPayloadSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLen)
	}

	rest := make([]byte, int(payloadLen)+recordChecksumLen)
	if _, err := io.ReadFull(in, rest); err != nil {
		return 0, err
	}
	payload := rest[:payloadLen]

	crc := crc64.Update(crc64.Checksum(header, crcTable), crcTable, payload)
	expected := binary.BigEndian.AppendUint64(nil, crc)
	if !bytes.Equal(rest[payloadLen:], expected) {
		return 0, ErrInvalidCRC
	}

	r.Version = header[recordVersionIndex]
	r.Type = binary.BigEndian.Uint16(header[recordTypeOffset:])
	r.Payload = payload

	return recordHeaderLen + len(rest), nil
}
