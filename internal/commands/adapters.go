// Copyright (c) Kalynt contributors.
// Licensed under the MIT License.

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Hermes-Lekkas/Kalynt-sub001/internal/dap"
)

func newAdaptersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "Lists the debug types this build knows how to launch adapters for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, debugType := range dap.SupportedDebugTypes() {
				fmt.Fprintln(cmd.OutOrStdout(), debugType)
			}
			return nil
		},
	}
}
