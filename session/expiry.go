package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidExpiry is returned for expiry strings not shaped like HH:MM:SS.
var ErrInvalidExpiry = errors.New("invalid session expiry")

// ParseExpiry parses an HH:MM:SS duration. Hours are unbounded so "720:00:00"
// means thirty days.
func ParseExpiry(v string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, v)
	}

	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, v)
		}
		if i > 0 && n > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, v)
		}
		fields[i] = n
	}

	d := time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, v)
	}
	return d, nil
}

// FormatExpiry renders d back into HH:MM:SS.
func FormatExpiry(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// ExpiryPolicy holds the per-device expiry windows.
type ExpiryPolicy struct {
	Desktop time.Duration
	Mobile  time.Duration
}

// For returns the window configured for device.
func (p ExpiryPolicy) For(device Device) time.Duration {
	if device == DeviceMobile {
		return p.Mobile
	}
	return p.Desktop
}

// Longest returns the larger of the device windows.
func (p ExpiryPolicy) Longest() time.Duration {
	if p.Mobile > p.Desktop {
		return p.Mobile
	}
	return p.Desktop
}
