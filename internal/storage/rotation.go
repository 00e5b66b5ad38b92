package storage

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrBadRotation = errors.New("bad rotation")

// ParseRotation turns a `[0-9]+[smhd]` string into a duration. A
// missing or unknown unit defaults to seconds.
func ParseRotation(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadRotation)
	}

	unit := time.Second
	digits := s
	switch s[len(s)-1] {
	case 's':
		digits = s[:len(s)-1]
	case 'm':
		unit = time.Minute
		digits = s[:len(s)-1]
	case 'h':
		unit = time.Hour
		digits = s[:len(s)-1]
	case 'd':
		unit = 24 * time.Hour
		digits = s[:len(s)-1]
	default:
		if s[len(s)-1] < '0' || s[len(s)-1] > '9' {
			// unknown unit tag, treat the prefix as seconds
			digits = s[:len(s)-1]
		}
	}

	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadRotation, s)
	}
	return time.Duration(n) * unit, nil
}

// FormatRotation renders a duration back into the `N[smhd]` grammar,
// picking the largest exact unit.
func FormatRotation(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs%(86400) == 0 && secs >= 86400:
		return fmt.Sprintf("%dd", secs/86400)
	case secs%3600 == 0 && secs >= 3600:
		return fmt.Sprintf("%dh", secs/3600)
	case secs%60 == 0 && secs >= 60:
		return fmt.Sprintf("%dm", secs/60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
