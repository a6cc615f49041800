package main

import (
	"github.com/spf13/cobra"

	"github.com/agentfabric/gateway/internal/wire"
)

func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect connected agents",
	}
	cmd.AddCommand(buildAgentsListCmd())
	return cmd
}

func buildAgentsListCmd() *cobra.Command {
	var workspace string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents currently known to the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newClientServiceClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			resp, err := client.ListAgents(ctx, &wire.ListAgentsRequest{Workspace: workspace})
			if err != nil {
				return err
			}
			if len(resp.Agents) == 0 {
				printf("no agents found\n")
				return nil
			}
			printf("%-24s %-16s %-16s %s\n", "AGENT ID", "INSTANCE", "WORKSPACE", "ONLINE")
			for _, a := range resp.Agents {
				printf("%-24s %-16s %-16s %v\n", a.AgentID, a.InstanceID, a.Workspace, a.Online)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "filter by workspace tag")
	return cmd
}
