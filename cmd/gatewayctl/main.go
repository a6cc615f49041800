// Command gatewayctl is the operator CLI for the gateway: principal,
// binding, and token administration plus basic diagnostics (me, agents
// list). It authenticates with a bearer token obtained from the link flow
// or a prior `token create` call.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	gatewayAddr string
	authToken   string
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// buildRootCmd assembles the command tree. Split from main so tests can
// assemble the tree without executing it.
func buildRootCmd() *cobra.Command {
	cfg := loadCLIConfig()

	rootCmd := &cobra.Command{
		Use:          "gatewayctl",
		Short:        "Operator CLI for the agent-orchestration gateway",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&gatewayAddr, "gateway", cfg.GatewayAddr, "gateway gRPC address (host:port)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", cfg.Token, "operator bearer token")

	rootCmd.AddCommand(
		buildMeCmd(),
		buildAgentsCmd(),
		buildPrincipalsCmd(),
		buildBindingsCmd(),
		buildTokenCmd(),
	)
	return rootCmd
}

// exitCodeFor maps a command error to an exit code: 0 success, 1 auth
// failure, 2 server error.
func exitCodeFor(err error) int {
	if isAuthError(err) {
		return 1
	}
	return 2
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}
