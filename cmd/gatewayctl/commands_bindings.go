package main

import (
	"github.com/spf13/cobra"

	"github.com/agentfabric/gateway/internal/wire"
)

func buildBindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Manage (frontend, channel_id) -> agent_id bindings",
	}
	cmd.AddCommand(buildBindingsListCmd(), buildBindingsCreateCmd(), buildBindingsDeleteCmd())
	return cmd
}

func buildBindingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every durable binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newAdminClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			resp, err := client.ListBindings(ctx, &wire.ListBindingsRequest{})
			if err != nil {
				return err
			}
			printf("%-38s %-12s %-24s %s\n", "ID", "FRONTEND", "CHANNEL_ID", "AGENT_ID")
			for _, b := range resp.Bindings {
				printf("%-38s %-12s %-24s %s\n", b.ID, b.Frontend, b.ChannelID, b.AgentID)
			}
			return nil
		},
	}
}

func buildBindingsCreateCmd() *cobra.Command {
	var frontend, channelID, agentID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a binding",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newAdminClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			resp, err := client.CreateBinding(ctx, &wire.CreateBindingRequest{
				Frontend:  frontend,
				ChannelID: channelID,
				AgentID:   agentID,
			})
			if err != nil {
				return err
			}
			printf("created binding %s\n", resp.Binding.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&frontend, "frontend", "", "frontend label (slack, discord, cli, ...)")
	cmd.Flags().StringVar(&channelID, "channel-id", "", "external channel/room id")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "target agent id")
	_ = cmd.MarkFlagRequired("frontend")
	_ = cmd.MarkFlagRequired("channel-id")
	_ = cmd.MarkFlagRequired("agent-id")
	return cmd
}

func buildBindingsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [binding-id]",
		Short: "Delete a binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newAdminClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			if _, err := client.DeleteBinding(ctx, &wire.DeleteBindingRequest{BindingID: args[0]}); err != nil {
				return err
			}
			printf("deleted binding %s\n", args[0])
			return nil
		},
	}
}
