package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentfabric/gateway/internal/wire"
)

func buildMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the principal the current token resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newClientServiceClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			resp, err := client.GetMe(ctx, &wire.GetMeRequest{})
			if err != nil {
				return err
			}
			printf("principal_id: %s\n", resp.PrincipalID)
			printf("kind:         %s\n", resp.Kind)
			printf("display_name: %s\n", resp.DisplayName)
			if len(resp.Roles) > 0 {
				printf("roles:        %s\n", strings.Join(resp.Roles, ", "))
			}
			return nil
		},
	}
}
