package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"quicinterop/internal/barrier"
	"quicinterop/internal/compliance"
	"quicinterop/internal/provision"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/interop"
	projectConfigDir = ".interop"
	configFileName   = "config.yaml"
)

// Default returns the built-in configuration.
func Default() RunConfig {
	return RunConfig{
		ImplementationsDir: ".",
		Implementations:    "implementations.json",
		EnvDir:             "envs",
		TempDir:            os.TempDir(),
		VariablesDir:       "/tmp/interop-variables",
		Timeouts: TimeoutsConfig{
			Setup:   provision.DefaultSetupTimeout,
			Probe:   compliance.DefaultTimeout,
			Barrier: barrier.DefaultTimeout,
		},
	}
}

// LoadConfig layers the default, user, project and explicit configuration.
// Each file only overrides the keys it sets. An explicit path that does not
// exist is an error; the user and project files are optional.
func LoadConfig(explicit string) (RunConfig, error) {
	cfg := Default()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else if err := applyOptional(&cfg, userConfigPath); err != nil {
		return RunConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else if err := applyOptional(&cfg, projectConfigPath); err != nil {
		return RunConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
	}

	if explicit != "" {
		if err := applyFile(&cfg, explicit); err != nil {
			return RunConfig{}, fmt.Errorf("error loading config from %s: %w", explicit, err)
		}
	}
	return cfg, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

func applyOptional(cfg *RunConfig, path string) error {
	err := applyFile(cfg, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// applyFile decodes path over cfg. Keys absent from the file keep their
// current value; maps are merged key by key.
func applyFile(cfg *RunConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// RunDir returns the configured log directory or the timestamped default.
func (c RunConfig) RunDir(now time.Time) string {
	if c.LogDir != "" {
		return c.LogDir
	}
	return "logs_" + now.Format("2006-01-02T15:04:05")
}
