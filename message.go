// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	messageSizeLen        = 4
	messageHashesCountLen = 4
	messageReservedLen    = 4
	messageHeightLen      = 8

	messageSizeOffset        = 0
	messageHashesCountOffset = messageSizeOffset + messageSizeLen
	messageSignatureOffset   = messageHashesCountOffset + messageHashesCountLen
	messageStepOffset        = messageSignatureOffset + fullSignatureLen
	messageHeightOffset      = messageStepOffset + stepIdentifierLen + messageReservedLen
	messageHashesOffset      = messageHeightOffset + messageHeightLen

	// MessageHeaderSize is the size of a message carrying no hashes.
	MessageHeaderSize = messageHashesOffset
)

var ErrMalformedMessage = errors.New("malformed finalization message")

// Message is a signed prevote or precommit.
// A prevote names a chain of consecutive blocks starting at Height.
// A precommit names exactly one block.
type Message struct {
	StepIdentifier StepIdentifier
	Height         uint64
	Hashes         []Hash
	Signature      Signature
}

// Size returns the number of bytes of the serialized message.
func (m *Message) Size() int {
	return MessageHeaderSize + len(m.Hashes)*hashLen
}

// LastHeight returns the height of the last block named by the message.
func (m *Message) LastHeight() uint64 {
	if len(m.Hashes) == 0 {
		return m.Height
	}
	return m.Height + uint64(len(m.Hashes)) - 1
}

func (m *Message) Bytes() []byte {
	buff := make([]byte, m.Size())

	binary.BigEndian.PutUint32(buff[messageSizeOffset:], uint32(len(buff)))
	binary.BigEndian.PutUint32(buff[messageHashesCountOffset:], uint32(len(m.Hashes)))

	pos := messageSignatureOffset
	copy(buff[pos:], m.Signature.Signer[:])
	pos += votingKeyLen
	copy(buff[pos:], m.Signature.Value[:])

	m.StepIdentifier.put(buff[messageStepOffset:])
	binary.BigEndian.PutUint64(buff[messageHeightOffset:], m.Height)

	pos = messageHashesOffset
	for _, hash := range m.Hashes {
		copy(buff[pos:], hash[:])
		pos += hashLen
	}

	return buff
}

func (m *Message) FromBytes(buff []byte) error {
	if len(buff) < MessageHeaderSize {
		return fmt.Errorf("%w: buffer is %d bytes, expected at least %d", ErrMalformedMessage, len(buff), MessageHeaderSize)
	}

	size := binary.BigEndian.Uint32(buff[messageSizeOffset:])
	if int(size) != len(buff) {
		return fmt.Errorf("%w: size %d does not match buffer length %d", ErrMalformedMessage, size, len(buff))
	}

	hashesCount := binary.BigEndian.Uint32(buff[messageHashesCountOffset:])
	if uint64(MessageHeaderSize)+uint64(hashesCount)*hashLen != uint64(size) {
		return fmt.Errorf("%w: %d hashes do not fit in %d bytes", ErrMalformedMessage, hashesCount, size)
	}

	var step StepIdentifier
	step.fromBytes(buff[messageStepOffset:])
	if step.Stage >= stageCount {
		return fmt.Errorf("%w: unknown stage %d", ErrMalformedMessage, step.Stage)
	}

	pos := messageSignatureOffset
	copy(m.Signature.Signer[:], buff[pos:pos+votingKeyLen])
	pos += votingKeyLen
	copy(m.Signature.Value[:], buff[pos:pos+signatureLen])

	m.StepIdentifier = step
	m.Height = binary.BigEndian.Uint64(buff[messageHeightOffset:])

	m.Hashes = make([]Hash, hashesCount)
	pos = messageHashesOffset
	for i := range m.Hashes {
		copy(m.Hashes[i][:], buff[pos:pos+hashLen])
		pos += hashLen
	}

	return nil
}

// signedBytes returns the part of the serialized message covered by the signature.
func (m *Message) signedBytes() []byte {
	return m.Bytes()[messageStepOffset:]
}

// Sign signs the message in place.
func (m *Message) Sign(signer Signer) error {
	signature, err := signer.Sign(m.StepIdentifier, m.signedBytes())
	if err != nil {
		return err
	}
	m.Signature = signature
	return nil
}

func (m *Message) Verify(verifier SignatureVerifier) error {
	return verifier.Verify(m.Signature, m.StepIdentifier, m.signedBytes())
}

// Hash returns the SHA3-256 digest of the serialized message, signature included.
func (m *Message) Hash() Hash {
	return Hash(sha3.Sum256(m.Bytes()))
}

func (m *Message) Clone() *Message {
	clone := *m
	clone.Hashes = append([]Hash(nil), m.Hashes...)
	return &clone
}

// ShortHashOf returns the short hash of a message hash.
func ShortHashOf(hash Hash) ShortHash {
	return ShortHash(binary.LittleEndian.Uint32(hash[:4]))
}

// ShortHashSet is a set of short hashes known by a peer.
type ShortHashSet map[ShortHash]struct{}

func NewShortHashSet(shortHashes ...ShortHash) ShortHashSet {
	set := make(ShortHashSet, len(shortHashes))
	for _, shortHash := range shortHashes {
		set[shortHash] = struct{}{}
	}
	return set
}

func (s ShortHashSet) Contains(shortHash ShortHash) bool {
	_, ok := s[shortHash]
	return ok
}

// NewPrevote creates an unsigned prevote for the chain of hashes starting at height.
func NewPrevote(round FinalizationRound, height uint64, hashes []Hash) *Message {
	return &Message{
		StepIdentifier: NewStepIdentifier(round, StagePrevote),
		Height:         height,
		Hashes:         hashes,
	}
}

// NewPrecommit creates an unsigned precommit for a single block.
func NewPrecommit(round FinalizationRound, height uint64, hash Hash) *Message {
	return &Message{
		StepIdentifier: NewStepIdentifier(round, StagePrecommit),
		Height:         height,
		Hashes:         []Hash{hash},
	}
}
