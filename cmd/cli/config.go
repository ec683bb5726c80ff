package cli

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all bridge configuration
type Config struct {
	// ListenAddress is where the bridge socket binds. Keep it on loopback;
	// the protocol carries bot tokens and has no authentication layer.
	ListenAddress string
	LogLevel      string

	// RequestTimeoutSeconds bounds simple requests (lists, sends).
	RequestTimeoutSeconds int
	// LoginTimeoutSeconds bounds one Discord login attempt.
	LoginTimeoutSeconds int
}

// LoadConfig loads configuration from files and environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Configure environment variables - do this BEFORE reading config
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"ListenAddress":         "BRIDGE_LISTEN_ADDRESS",
		"LogLevel":              "BRIDGE_LOG_LEVEL",
		"RequestTimeoutSeconds": "BRIDGE_REQUEST_TIMEOUT_SECONDS",
		"LoginTimeoutSeconds":   "BRIDGE_LOGIN_TIMEOUT_SECONDS",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("bridge_config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.flowbaker")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenAddress", "127.0.0.1:7667")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("RequestTimeoutSeconds", 15)
	v.SetDefault("LoginTimeoutSeconds", 30)
}
