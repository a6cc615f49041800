package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentfabric/gateway/internal/wire"
)

func buildPrincipalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "principals",
		Short: "Manage principals (agents, clients, packs, operators)",
	}
	cmd.AddCommand(buildPrincipalsListCmd(), buildPrincipalsCreateCmd(), buildPrincipalsDeleteCmd())
	return cmd
}

func buildPrincipalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newAdminClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			resp, err := client.ListPrincipals(ctx, &wire.ListPrincipalsRequest{})
			if err != nil {
				return err
			}
			printf("%-38s %-8s %-8s %-20s %s\n", "ID", "KIND", "STATUS", "NAME", "ROLES")
			for _, p := range resp.Principals {
				printf("%-38s %-8s %-8s %-20s %s\n", p.ID, p.Kind, p.Status, p.DisplayName, strings.Join(p.Roles, ","))
			}
			return nil
		},
	}
}

func buildPrincipalsCreateCmd() *cobra.Command {
	var kind, displayName, fingerprint string
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a principal directly, bypassing the link-code ritual",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newAdminClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			resp, err := client.CreatePrincipal(ctx, &wire.CreatePrincipalRequest{
				Kind:        kind,
				DisplayName: displayName,
				Fingerprint: fingerprint,
				Roles:       roles,
			})
			if err != nil {
				return err
			}
			printf("created principal %s\n", resp.Principal.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "agent | client | pack | operator")
	cmd.Flags().StringVar(&displayName, "name", "", "display name")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "SSH key fingerprint (lowercase hex SHA-256)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role tag (repeatable)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("fingerprint")
	return cmd
}

func buildPrincipalsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [principal-id]",
		Short: "Delete a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := newAdminClient()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := callCtx()
			defer cancel()
			if _, err := client.DeletePrincipal(ctx, &wire.DeletePrincipalRequest{PrincipalID: args[0]}); err != nil {
				return err
			}
			printf("deleted principal %s\n", args[0])
			return nil
		},
	}
}
