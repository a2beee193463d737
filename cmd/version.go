package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fluxserve/core"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fluxserve %s\n", core.GetVersionInfo())
		},
	}
}
