// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/luxfi/finality"
)

// maxProofSize bounds decompressed proofs.
const maxProofSize = 64 << 20

// proofCodec stores proofs as zstd compressed wire bytes.
type proofCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newProofCodec() (*proofCodec, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxProofSize))
	if err != nil {
		return nil, err
	}

	return &proofCodec{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (c *proofCodec) encode(proof *finality.FinalizationProof) []byte {
	return c.encoder.EncodeAll(proof.Bytes(), nil)
}

func (c *proofCodec) decode(blob []byte) (*finality.FinalizationProof, error) {
	buff, err := c.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("could not decompress proof: %w", err)
	}

	var proof finality.FinalizationProof
	if err := proof.FromBytes(buff); err != nil {
		return nil, err
	}
	return &proof, nil
}

func (c *proofCodec) close() error {
	c.decoder.Close()
	return c.encoder.Close()
}
