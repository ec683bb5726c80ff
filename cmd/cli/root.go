package cli

import (
	"fmt"
	"os"

	"github.com/flowbaker/discord-bridge/internal/version"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "discord-bridge",
		Short: "Flowbaker Discord bridge",
		Long: `Discord bridge keeps one persistent Discord bot connection per credential
identity and routes requests and trigger events between workflow node
processes and those connections over a local bridge socket.`,
		Version:       version.GetShortVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(NewStartCommand())
	rootCmd.AddCommand(NewStatusCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
