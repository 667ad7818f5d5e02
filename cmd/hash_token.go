package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"diffusion_backend/server"

	"github.com/spf13/cobra"
)

func newHashTokenCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "hash-token",
		Short: "Print the bcrypt hash of an API token for API_TOKEN_HASH",
		Long: `Reads the token from --token or from the first line of stdin and prints
its bcrypt hash. Put the hash in API_TOKEN_HASH and give clients the token
as "Authorization: Bearer <token>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
			}
			hash, err := server.HashToken(token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token to hash (default: read stdin)")
	return cmd
}
