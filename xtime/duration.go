package xtime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Units beyond what time.ParseDuration understands, expressed in hours.
var extUnits = map[string]time.Duration{
	"d": 24,
	"D": 24,
	"w": 7 * 24,
	"W": 7 * 24,
}

var durationRx = regexp.MustCompile(`^(\d*\.\d+|\d+)(ns|us|µs|ms|s|m|h|d|D|w|W)`)

// ParseDuration parses a duration string such as "90s", "1h30m", "2d" or
// "1w3d12h". In addition to the units supported by time.ParseDuration, it
// accepts "d" (days) and "w" (weeks). A leading "-" negates the value.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return 0, fmt.Errorf("invalid duration '%s'", orig)
	}
	if s == "0" {
		return 0, nil
	}

	var total time.Duration
	for s != "" {
		m := durationRx.FindStringSubmatch(s)
		if m == nil {
			return 0, fmt.Errorf("invalid duration '%s'", orig)
		}
		s = s[len(m[0]):]

		if hours, ok := extUnits[m[2]]; ok {
			n, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration '%s': %w", orig, err)
			}
			total += time.Duration(n * float64(hours*time.Hour))
			continue
		}

		d, err := time.ParseDuration(m[0])
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", orig, err)
		}
		total += d
	}

	if neg {
		total = -total
	}

	return total, nil
}

// FormatDuration formats d using the largest whole units first, e.g. "1w2d",
// "3h5m" or "750ms". Components smaller than round are dropped.
func FormatDuration(d time.Duration, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0s"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}

	units := []struct {
		suffix string
		size   time.Duration
	}{
		{"w", 7 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
		{"ms", time.Millisecond},
	}
	for _, u := range units {
		if d < u.size || (round > 0 && u.size < round) {
			continue
		}
		fmt.Fprintf(&sb, "%d%s", d/u.size, u.suffix)
		d %= u.size
	}

	if sb.Len() == 0 || sb.String() == "-" {
		return "0s"
	}

	return sb.String()
}

// ErrNegative is returned by ParsePositiveDuration for values below zero.
var ErrNegative = errors.New("duration must not be negative")

// ParsePositiveDuration is like ParseDuration, but rejects negative values.
func ParsePositiveDuration(s string) (time.Duration, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: '%s'", ErrNegative, s)
	}

	return d, nil
}
