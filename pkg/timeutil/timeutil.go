// Package timeutil parses and formats the duration strings found in
// podcast feeds and syndication output.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDurationSeconds converts a feed duration string into whole seconds.
// Accepted forms are plain integer seconds ("1800"), M:SS ("30:00") and
// H:MM:SS ("1:30:00"). Malformed input returns 0, the unknown value.
func ParseDurationSeconds(raw string) int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}

	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// FormatHMS renders whole seconds as zero-padded HH:MM:SS
func FormatHMS(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
