// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luxfi/finality"
	"github.com/luxfi/finality/storage"
)

const EpochKey = "epoch"

func verifyCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "verify",
		Short: "Verifies a stored proof against the voters of the config file",
		RunE:  verifyFunc,
	}
	flags := c.Flags()
	flags.String(DBKey, "", "Proof database directory (required)")
	flags.Uint32(EpochKey, 0, "Epoch of the proof to verify (required)")
	addFinalityFlags(flags)
	return c
}

func verifyFunc(c *cobra.Command, _ []string) error {
	v, err := newViper(c.Flags())
	if err != nil {
		return err
	}

	log, err := newLogger(v)
	if err != nil {
		return err
	}

	config, err := parseConfig(v)
	if err != nil {
		return err
	}

	voters, err := parseVoters(v)
	if err != nil {
		return err
	}

	dir := v.GetString(DBKey)
	epoch := v.GetUint32(EpochKey)
	if dir == "" || epoch == 0 {
		return errors.New("--db and --epoch are required")
	}

	proofs, err := storage.Open(dir, finality.FinalizationStatistics{})
	if err != nil {
		return err
	}
	defer proofs.Close()

	proof, err := proofs.LoadProof(epoch)
	if err != nil {
		return err
	}

	contextFactory := finality.NewFinalizationContextFactory(config, finality.NewStaticWeightOracle(voters))
	result := finality.VerifyFinalizationProof(log, proof, contextFactory(epoch), finality.Ed25519Verifier{})
	fmt.Fprintf(c.OutOrStdout(), "round %s height %d hash %s: %s\n", proof.Round, proof.Height, proof.Hash, result)
	if result != finality.VerifyProofSuccess {
		return fmt.Errorf("proof of epoch %d is invalid: %s", epoch, result)
	}
	return nil
}
