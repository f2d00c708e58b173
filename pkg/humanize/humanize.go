// Package humanize formats byte counts and durations for logs and the
// operator-facing health/stats surface.
package humanize

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var units = []struct {
	suffix   string
	divisor  uint64
}{
	{"TB", 1024 * 1024 * 1024 * 1024},
	{"GB", 1024 * 1024 * 1024},
	{"MB", 1024 * 1024},
	{"KB", 1024},
	{"B", 1},
}

// Bytes renders n as a human-readable size, e.g. "12.3MB".
func Bytes(n uint64) string {
	for _, u := range units {
		if n < u.divisor {
			continue
		}
		value := n / u.divisor
		remainder := n % u.divisor
		if remainder == 0 || u.divisor == 1 {
			return fmt.Sprintf("%d%s", value, u.suffix)
		}
		decimal := remainder * 10 / u.divisor
		if decimal > 0 {
			return fmt.Sprintf("%d.%d%s", value, decimal, u.suffix)
		}
		return fmt.Sprintf("%d%s", value, u.suffix)
	}
	return fmt.Sprintf("%dB", n)
}

// ParseBytes parses a human-readable size ("5MB", "1GiB", "1024") back
// into a byte count.
func ParseBytes(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("humanize: empty size")
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}

	pos := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if pos <= 0 {
		return 0, fmt.Errorf("humanize: invalid size %q", s)
	}
	numStr, unit := s[:pos], strings.TrimSpace(s[pos:])

	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("humanize: invalid number in %q: %w", s, err)
	}

	var multiplier uint64
	switch unit {
	case "B":
		multiplier = 1
	case "K", "KB", "KIB":
		multiplier = 1024
	case "M", "MB", "MIB":
		multiplier = 1024 * 1024
	case "G", "GB", "GIB":
		multiplier = 1024 * 1024 * 1024
	case "T", "TB", "TIB":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("humanize: invalid unit %q", unit)
	}
	return num * multiplier, nil
}

// Duration renders d the way operator-facing logs expect: "3m04s",
// "820ms", "1h02m".
func Duration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
