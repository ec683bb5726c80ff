package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowbaker/discord-bridge/internal/bot"
	"github.com/flowbaker/discord-bridge/internal/broker"
	"github.com/flowbaker/discord-bridge/internal/version"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge broker",
		Long:  `Start the bridge broker: bind the bridge socket and serve node processes until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			return runStart(debug)
		},
	}

	return cmd
}

func runStart(debug bool) error {
	config, err := LoadConfig()
	if err != nil {
		return err
	}

	applyLogLevel(config.LogLevel, debug)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("version", version.GetVersion()).
		Str("listen_address", config.ListenAddress).
		Msg("Starting bridge broker")

	b := broker.NewBroker(broker.Config{
		ListenAddress:  config.ListenAddress,
		RequestTimeout: time.Duration(config.RequestTimeoutSeconds) * time.Second,
		LoginTimeout:   time.Duration(config.LoginTimeoutSeconds) * time.Second,
	}, bot.NewDiscordGateway)

	if err := b.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Bridge broker failed")
		return err
	}

	log.Info().Msg("Bridge broker stopped")
	return nil
}

func applyLogLevel(level string, debug bool) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
