package app

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"newsclip/internal/cli"
	"newsclip/internal/config"
	"newsclip/internal/logging"
)

// bootstrap loads the env file, configuration and logger shared by every
// command. A missing env file is only a warning; real environments inject
// variables directly.
func bootstrap(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Logger{}, 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Logger{}, 1
	}

	return cfg, logger, 0
}
