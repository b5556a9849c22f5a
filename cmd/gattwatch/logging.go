package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// configureLogger builds the command logger. Level precedence, highest first:
// --log-level, the verbose flag (debug), fallbackLevel (a config file value,
// empty when no file was given), then panic level so normal runs stay silent.
func configureLogger(cmd *cobra.Command, verboseFlagName, fallbackLevel string) (*logrus.Logger, error) {
	level := logrus.PanicLevel

	flagLevel, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool(verboseFlagName)

	switch {
	case flagLevel != "":
		parsed, err := logrus.ParseLevel(flagLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", flagLevel, err)
		}
		level = parsed
	case verbose:
		level = logrus.DebugLevel
	case fallbackLevel != "":
		parsed, err := logrus.ParseLevel(fallbackLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q in configuration: %w", fallbackLevel, err)
		}
		level = parsed
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}
