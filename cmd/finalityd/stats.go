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

func statsCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "stats",
		Short: "Prints the last finalized block of a proof database",
		RunE:  statsFunc,
	}
	c.Flags().String(DBKey, "", "Proof database directory (required)")
	return c
}

func statsFunc(c *cobra.Command, _ []string) error {
	v, err := newViper(c.Flags())
	if err != nil {
		return err
	}

	dir := v.GetString(DBKey)
	if dir == "" {
		return errors.New("--db is required")
	}

	proofs, err := storage.Open(dir, finality.FinalizationStatistics{})
	if err != nil {
		return err
	}
	defer proofs.Close()

	statistics := proofs.Statistics()
	fmt.Fprintf(c.OutOrStdout(), "round:  %s\nheight: %d\nhash:   %s\n", statistics.Round, statistics.Height, statistics.Hash)
	return nil
}
