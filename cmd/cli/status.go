package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/flowbaker/discord-bridge/pkg/bridge"

	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show broker status",
		Long:  `Show broker status: uptime, connected bot identities, and registered trigger subscriptions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig()
			if err != nil {
				return err
			}
			return runStatus(config.ListenAddress)
		},
	}

	return cmd
}

func runStatus(listenAddress string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := bridge.NewClient(bridge.WithURL(fmt.Sprintf("ws://%s/ipc", listenAddress)))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("broker is not reachable at %s: %w", listenAddress, err)
	}
	defer client.Close()

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Broker up since: %s\n", status.StartedAt)
	fmt.Printf("Bot connections: %d\n", status.Connections)
	fmt.Printf("Trigger subscriptions: %d\n", status.Subscribers)

	return nil
}
