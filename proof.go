// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

const (
	// FinalizationProofVersion is the only proof version this node produces and accepts.
	FinalizationProofVersion uint32 = 1

	// SignatureSchemaEd25519 tags groups whose signatures are ed25519.
	SignatureSchemaEd25519 uint16 = 1

	proofHeaderSize       = 4 + 4 + 4 + 4 + 8 + hashLen
	messageGroupHeaderLen = 4 + 4 + 2 + 2 + 4 + 8
)

var ErrMalformedProof = errors.New("malformed finalization proof")

// MessageGroup holds the signatures of all messages of a proof that share the same content.
type MessageGroup struct {
	Stage           Stage
	Height          uint64
	Hashes          []Hash
	SignatureSchema uint16
	Signatures      []Signature
}

func (g *MessageGroup) size() int {
	return messageGroupHeaderLen + len(g.Hashes)*hashLen + len(g.Signatures)*fullSignatureLen
}

func (g *MessageGroup) matches(msg *Message) bool {
	return g.Stage == msg.StepIdentifier.Stage && g.Height == msg.Height && slices.Equal(g.Hashes, msg.Hashes)
}

// messages rebuilds one message per signature of the group.
func (g *MessageGroup) messages(round FinalizationRound) []*Message {
	messages := make([]*Message, 0, len(g.Signatures))
	for _, signature := range g.Signatures {
		messages = append(messages, &Message{
			StepIdentifier: NewStepIdentifier(round, g.Stage),
			Height:         g.Height,
			Hashes:         g.Hashes,
			Signature:      signature,
		})
	}
	return messages
}

// FinalizationProof proves that the block Height/Hash was finalized in Round.
type FinalizationProof struct {
	Version       uint32
	Round         FinalizationRound
	Height        uint64
	Hash          Hash
	MessageGroups []MessageGroup
}

// CreateFinalizationProof groups messages by content, keeping the order in which
// each group was first seen.
func CreateFinalizationProof(statistics FinalizationStatistics, messages []*Message) *FinalizationProof {
	proof := &FinalizationProof{
		Version: FinalizationProofVersion,
		Round:   statistics.Round,
		Height:  statistics.Height,
		Hash:    statistics.Hash,
	}

	for _, msg := range messages {
		i := slices.IndexFunc(proof.MessageGroups, func(group MessageGroup) bool {
			return group.matches(msg)
		})
		if i < 0 {
			proof.MessageGroups = append(proof.MessageGroups, MessageGroup{
				Stage:           msg.StepIdentifier.Stage,
				Height:          msg.Height,
				Hashes:          append([]Hash(nil), msg.Hashes...),
				SignatureSchema: SignatureSchemaEd25519,
			})
			i = len(proof.MessageGroups) - 1
		}

		proof.MessageGroups[i].Signatures = append(proof.MessageGroups[i].Signatures, msg.Signature)
	}

	return proof
}

// Statistics returns the finalized block described by the proof.
func (p *FinalizationProof) Statistics() FinalizationStatistics {
	return FinalizationStatistics{Round: p.Round, Height: p.Height, Hash: p.Hash}
}

// Messages rebuilds the messages the proof was created from.
func (p *FinalizationProof) Messages() []*Message {
	var messages []*Message
	for i := range p.MessageGroups {
		messages = append(messages, p.MessageGroups[i].messages(p.Round)...)
	}
	return messages
}

func (p *FinalizationProof) Size() int {
	size := proofHeaderSize
	for i := range p.MessageGroups {
		size += p.MessageGroups[i].size()
	}
	return size
}

func (p *FinalizationProof) Bytes() []byte {
	buff := make([]byte, p.Size())

	binary.BigEndian.PutUint32(buff[0:], uint32(len(buff)))
	binary.BigEndian.PutUint32(buff[4:], p.Version)
	binary.BigEndian.PutUint32(buff[8:], p.Round.Epoch)
	binary.BigEndian.PutUint32(buff[12:], p.Round.Point)
	binary.BigEndian.PutUint64(buff[16:], p.Height)
	copy(buff[24:], p.Hash[:])

	pos := proofHeaderSize
	for _, group := range p.MessageGroups {
		binary.BigEndian.PutUint32(buff[pos:], uint32(group.size()))
		binary.BigEndian.PutUint32(buff[pos+4:], uint32(len(group.Hashes)))
		binary.BigEndian.PutUint16(buff[pos+8:], group.SignatureSchema)
		binary.BigEndian.PutUint32(buff[pos+12:], uint32(group.Stage))
		binary.BigEndian.PutUint64(buff[pos+16:], group.Height)
		pos += messageGroupHeaderLen

		for _, hash := range group.Hashes {
			copy(buff[pos:], hash[:])
			pos += hashLen
		}

		for _, signature := range group.Signatures {
			copy(buff[pos:], signature.Signer[:])
			copy(buff[pos+votingKeyLen:], signature.Value[:])
			pos += fullSignatureLen
		}
	}

	return buff
}

func (p *FinalizationProof) FromBytes(buff []byte) error {
	if len(buff) < proofHeaderSize {
		return fmt.Errorf("%w: buffer is %d bytes, expected at least %d", ErrMalformedProof, len(buff), proofHeaderSize)
	}

	size := binary.BigEndian.Uint32(buff)
	if int(size) != len(buff) {
		return fmt.Errorf("%w: size %d does not match buffer length %d", ErrMalformedProof, size, len(buff))
	}

	var proof FinalizationProof
	proof.Version = binary.BigEndian.Uint32(buff[4:])
	proof.Round.Epoch = binary.BigEndian.Uint32(buff[8:])
	proof.Round.Point = binary.BigEndian.Uint32(buff[12:])
	proof.Height = binary.BigEndian.Uint64(buff[16:])
	copy(proof.Hash[:], buff[24:proofHeaderSize])

	buff = buff[proofHeaderSize:]
	for len(buff) > 0 {
		group, err := parseMessageGroup(buff)
		if err != nil {
			return err
		}

		proof.MessageGroups = append(proof.MessageGroups, group)
		buff = buff[group.size():]
	}

	*p = proof
	return nil
}

func parseMessageGroup(buff []byte) (MessageGroup, error) {
	if len(buff) < messageGroupHeaderLen {
		return MessageGroup{}, fmt.Errorf("%w: message group header is truncated", ErrMalformedProof)
	}

	size := uint64(binary.BigEndian.Uint32(buff))
	hashesCount := uint64(binary.BigEndian.Uint32(buff[4:]))
	if size > uint64(len(buff)) || size < messageGroupHeaderLen+hashesCount*hashLen {
		return MessageGroup{}, fmt.Errorf("%w: message group size %d is invalid", ErrMalformedProof, size)
	}

	signaturesLen := size - messageGroupHeaderLen - hashesCount*hashLen
	if signaturesLen%fullSignatureLen != 0 {
		return MessageGroup{}, fmt.Errorf("%w: message group holds a partial signature", ErrMalformedProof)
	}

	group := MessageGroup{
		SignatureSchema: binary.BigEndian.Uint16(buff[8:]),
		Stage:           Stage(binary.BigEndian.Uint32(buff[12:])),
		Height:          binary.BigEndian.Uint64(buff[16:]),
		Hashes:          make([]Hash, hashesCount),
		Signatures:      make([]Signature, signaturesLen/fullSignatureLen),
	}
	if group.Stage >= stageCount {
		return MessageGroup{}, fmt.Errorf("%w: unknown stage %d", ErrMalformedProof, group.Stage)
	}

	pos := messageGroupHeaderLen
	for i := range group.Hashes {
		copy(group.Hashes[i][:], buff[pos:pos+hashLen])
		pos += hashLen
	}

	for i := range group.Signatures {
		copy(group.Signatures[i].Signer[:], buff[pos:pos+votingKeyLen])
		copy(group.Signatures[i].Value[:], buff[pos+votingKeyLen:pos+fullSignatureLen])
		pos += fullSignatureLen
	}

	return group, nil
}
