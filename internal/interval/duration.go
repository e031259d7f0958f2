package interval

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ToDuration parses a keep_age expression into a duration. Beyond Go's
// stdlib time.ParseDuration (ns/us/ms/s/m/h only), this accepts the day and
// week units backup retention windows are normally expressed in: "7d",
// "2w", "1h30m". Units may be mixed ("1w3d") but each numeric component
// must carry its own unit suffix.
func ToDuration(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("empty interval expression")
	}

	var total time.Duration
	i := 0
	for i < len(expr) {
		start := i
		for i < len(expr) && (isDigit(expr[i]) || expr[i] == '.') {
			i++
		}
		if start == i {
			return 0, fmt.Errorf("invalid interval expression %q: expected a number at position %d", expr, i)
		}
		numPart := expr[start:i]

		unitStart := i
		for i < len(expr) && !isDigit(expr[i]) && expr[i] != '.' {
			i++
		}
		unit := expr[unitStart:i]
		if unit == "" {
			return 0, fmt.Errorf("invalid interval expression %q: missing unit after %q", expr, numPart)
		}

		n, err := strconv.ParseFloat(numPart, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid interval expression %q: %w", expr, err)
		}

		unitDur, ok := unitDuration(unit)
		if !ok {
			return 0, fmt.Errorf("invalid interval expression %q: unknown unit %q", expr, unit)
		}
		total += time.Duration(n * float64(unitDur))
	}
	return total, nil
}

// ToOldestDatetime is interval_to_oldest_datetime(expr): the cutoff instant
// before which a snapshot protected only by age is no longer kept.
func ToOldestDatetime(expr string, now time.Time) (time.Time, error) {
	d, err := ToDuration(expr)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func unitDuration(unit string) (time.Duration, bool) {
	switch strings.ToLower(unit) {
	case "ns":
		return time.Nanosecond, true
	case "us", "µs":
		return time.Microsecond, true
	case "ms":
		return time.Millisecond, true
	case "s", "sec", "secs", "second", "seconds":
		return time.Second, true
	case "m", "min", "mins", "minute", "minutes":
		return time.Minute, true
	case "h", "hr", "hrs", "hour", "hours":
		return time.Hour, true
	case "d", "day", "days":
		return 24 * time.Hour, true
	case "w", "week", "weeks":
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
