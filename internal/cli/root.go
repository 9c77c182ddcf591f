// Package cli wires the commentsync commands together.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

// NewRootCommand builds the commentsync command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "commentsync",
		Short:         "Durable write queue for article comments and reactions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newServeCommand(),
		newStatusCommand(),
		newCommentCommand(),
		newUncommentCommand(),
		newReactCommand(),
		newUnreactCommand(),
		newDrainCommand(),
	)
	return root
}
