// Package cmd holds the metamax command tree.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the metamax command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "metamax",
		Short: "MetaMax dashboard server and account tools",
		Long: `metamax runs the MetaMax API server and manages your MetaMax session
from the terminal.

The session is stored in $METAMAX_SESSION_DIR (default: your user config
directory), or in Redis when REDIS_ADDR is set.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCommand(),
		newSignupCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newWhoamiCommand(),
	)
	return root
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
