/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"github.com/spf13/cobra"

	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/logger"
)

func NewRootCmd(log *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		SilenceErrors: true,
		Use:           "kdbg",
		Short:         "Drives debug adapters over the Debug Adapter Protocol",
		Long: `kdbg is the debug engine behind the Kalynt IDE.

	It launches debug adapters (or connects to already-running ones), performs
	the Debug Adapter Protocol handshake, and manages breakpoints, stepping,
	and inspection for the resulting debug sessions.`,
		SilenceUsage: true,
	}

	log.AddLevelFlag(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newRunCommand(log))
	rootCmd.AddCommand(newAdaptersCommand())

	return rootCmd, nil
}
