package config

import (
	"errors"
	"fmt"
	"os"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks option combinations that cannot work together.
func (c RunConfig) Validate() error {
	var errs []error

	if n := len(c.Emulation.ReorderPackets); n > 0 {
		if n != 2 {
			errs = append(errs, fmt.Errorf("reorder takes a percentage and a correlation, got %d values", n))
		}
		if c.Emulation.Delay == "" {
			errs = append(errs, errors.New("reordering requires a delay"))
		}
	}
	if !c.Emulation.Empty() && c.Testbed == "" {
		errs = append(errs, errors.New("link emulation requires a testbed"))
	}
	if c.TUI && c.Manual {
		errs = append(errs, errors.New("manual mode cannot be combined with the TUI"))
	}
	if c.Repetitions < 0 {
		errs = append(errs, fmt.Errorf("repetitions must not be negative, got %d", c.Repetitions))
	}
	if c.OnlySameImplementation && len(c.Servers) > 0 && len(c.Clients) > 0 && !overlaps(c.Servers, c.Clients) {
		errs = append(errs, errors.New("only-same-implementation selects no pairing"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func overlaps(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := seen[s]; ok {
			return true
		}
	}
	return false
}

// CheckRunDir refuses to reuse an existing log directory.
func CheckRunDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("log directory %s already exists", dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
