package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fluxserve/server"
)

func newHashKeyCommand() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Print the bcrypt hash of an API key for FLUX_API_KEY_HASH",
		Long:  "Reads the key from --key, or the first line of stdin when --key is not given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read key from stdin: %w", err)
				}
				key = strings.TrimSpace(line)
			}
			hash, err := server.HashAPIKey(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "API key to hash")
	return cmd
}
