package implementations

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var sizeUnits = map[string]float64{
	"B":   1,
	"KB":  1e3,
	"MB":  1e6,
	"GB":  1e9,
	"TB":  1e12,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
}

var sizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(B|KB|MB|GB|TB|KiB|MiB|GiB|TiB)?$`)

// ParseFileSize converts a human readable size such as "50MiB" or "1.5 GB"
// into a byte count. A bare number is interpreted in defaultUnit. Sizes
// below one byte or beyond int64 are rejected.
func ParseFileSize(input, defaultUnit string) (int64, error) {
	m := sizePattern.FindStringSubmatch(input)
	if m == nil {
		return 0, fmt.Errorf("invalid file size %q", input)
	}
	number, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid file size %q: %w", input, err)
	}
	unit := m[2]
	if unit == "" {
		unit = defaultUnit
	}
	factor, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q", unit)
	}
	bytes := math.Floor(number * factor)
	switch {
	case bytes >= math.MaxInt64:
		return 0, fmt.Errorf("file size %q is too large", input)
	case bytes < 1:
		return 0, fmt.Errorf("file size %q is less than one byte", input)
	}
	return int64(bytes), nil
}

// EffectiveMaxFileSize returns the smaller of two optional ceilings, where 0
// means unset. Both unset yields 0 (no ceiling).
func EffectiveMaxFileSize(a, b int64) int64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
