package commands

import (
	"github.com/spf13/cobra"
)

// addr of a running agent, shared by the query subcommands.
var agentAddr string

func Execute() error {
	root := &cobra.Command{
		Use:           "memberd",
		Short:         "Gossip-based node membership agent",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&agentAddr, "addr", "127.0.0.1:7946", "address of a running agent")

	root.AddCommand(runCmd(), membersCmd(), ringCmd(), versionCmd())
	return root.Execute()
}
