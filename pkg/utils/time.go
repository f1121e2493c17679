package utils

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration formats a call duration as mm:ss, or h:mm:ss past one hour
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// FormatTimestamp formats timestamp in ISO 8601 format with milliseconds
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// FileSafeTimestamp is FormatTimestamp with ':' and '.' replaced by '-'
func FileSafeTimestamp(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(FormatTimestamp(t))
}

// Now returns current time (useful for mocking in tests)
var Now = time.Now

// Since returns time since given time
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
