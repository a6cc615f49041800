package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentfabric/gateway/internal/wire"
)

func buildTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}
	cmd.AddCommand(buildTokenCreateCmd())
	return cmd
}

func buildTokenCreateCmd() *cobra.Command {
	var ttlSeconds int64
	cmd := &cobra.Command{
		Use:   "create [principal-id]",
		Short: "Mint a bearer token for an existing principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newAdminClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			resp, err := client.CreateToken(ctx, &wire.CreateTokenRequest{
				PrincipalID: args[0],
				TTLSeconds:  ttlSeconds,
			})
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(cmd.OutOrStdout(), "token minted")
			printf("%s\n", resp.Token)
			printf("expires_at: %d\n", resp.ExpiresAt)
			return nil
		},
	}
	cmd.Flags().Int64Var(&ttlSeconds, "ttl", 86400, "token lifetime in seconds")
	return cmd
}
