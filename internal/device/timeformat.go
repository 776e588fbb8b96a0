package device

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatTime renders seconds as HH:MM:SS, the DLNA RelTime/TrackDuration
// wire format. Non-positive values render as 00:00:00.
func FormatTime(seconds float64) string {
	if seconds <= 0 {
		return "00:00:00"
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// ParseTime reads HH:MM:SS, MM:SS or plain seconds. Fractional seconds are
// accepted and kept.
func ParseTime(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty time value")
	}

	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("malformed time %q", value)
	}

	total := 0.0
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return 0, fmt.Errorf("malformed time %q", value)
		}
		total = total*60 + f
	}
	if total < 0 {
		return 0, fmt.Errorf("negative time %q", value)
	}
	return total, nil
}
