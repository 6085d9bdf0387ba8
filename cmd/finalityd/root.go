// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"github.com/spf13/cobra"
)

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "finalityd",
		Short:         "Inspects and simulates block finalization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(c.PersistentFlags())
	c.AddCommand(
		statsCommand(),
		verifyCommand(),
		simulateCommand(),
	)
	return c
}
