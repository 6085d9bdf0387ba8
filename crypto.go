// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/ed25519"
)

const signingContext = "finality/step"

var ErrInvalidSignature = errors.New("invalid signature")

var (
	_ Signer            = (*Ed25519Signer)(nil)
	_ SignatureVerifier = Ed25519Verifier{}
)

// Ed25519Signer signs finalization messages with a single ed25519 key.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  VotingKey
}

func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed is %d bytes, expected %d", len(seed), ed25519.SeedSize)
	}
	return newEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

func GenerateEd25519Signer(rand io.Reader) (*Ed25519Signer, error) {
	_, privateKey, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("could not generate voting key: %w", err)
	}
	return newEd25519Signer(privateKey), nil
}

func newEd25519Signer(privateKey ed25519.PrivateKey) *Ed25519Signer {
	s := &Ed25519Signer{privateKey: privateKey}
	copy(s.publicKey[:], privateKey.Public().(ed25519.PublicKey))
	return s
}

func (s *Ed25519Signer) PublicKey() VotingKey {
	return s.publicKey
}

func (s *Ed25519Signer) Sign(step StepIdentifier, buff []byte) (Signature, error) {
	signature := Signature{Signer: s.publicKey}
	copy(signature.Value[:], ed25519.Sign(s.privateKey, signingPayload(step, buff)))
	return signature, nil
}

// Ed25519Verifier verifies signatures produced by Ed25519Signer.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(signature Signature, step StepIdentifier, buff []byte) error {
	publicKey := ed25519.PublicKey(signature.Signer[:])
	if !ed25519.Verify(publicKey, signingPayload(step, buff), signature.Value[:]) {
		return fmt.Errorf("%w: signer %s step %s", ErrInvalidSignature, signature.Signer, step)
	}
	return nil
}

func signingPayload(step StepIdentifier, buff []byte) []byte {
	payload := make([]byte, 0, len(signingContext)+stepIdentifierLen+len(buff))
	payload = append(payload, signingContext...)
	payload = append(payload, step.Bytes()...)
	return append(payload, buff...)
}
