package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "mysql-test-app",
		Short:        "Test workload that continuously writes to a related MySQL service",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCommand())
	root.AddCommand(newActionCommands()...)
	return root
}
