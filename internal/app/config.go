package app

import (
	"io"

	"quicinterop/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Run is the merged configuration of the run
	Run config.RunConfig

	// Args are the explicitly set command line flags, recorded in the
	// result document
	Args map[string]any

	// Out receives the console banners and the results table, LogOutput the
	// CLI log. Both default to stdout.
	Out       io.Writer
	LogOutput io.Writer
	// In is read in manual mode, stdin by default
	In io.Reader
}

// NewConfig creates a new application configuration
func NewConfig(run config.RunConfig, args map[string]any) *Config {
	return &Config{
		Run:  run,
		Args: args,
	}
}
