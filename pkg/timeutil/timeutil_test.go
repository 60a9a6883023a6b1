package timeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationSeconds(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"plain seconds", "1800", 1800},
		{"zero", "0", 0},
		{"minutes and seconds", "30:00", 1800},
		{"minutes and seconds short", "5:07", 307},
		{"hours minutes seconds", "1:30:00", 5400},
		{"hours minutes seconds padded", "01:02:03", 3723},
		{"surrounding whitespace", " 45:10 ", 2710},
		{"empty is unknown", "", 0},
		{"whitespace only is unknown", "   ", 0},
		{"letters are unknown", "abc", 0},
		{"mixed garbage is unknown", "1:xx", 0},
		{"too many fields is unknown", "1:2:3:4", 0},
		{"negative is unknown", "-5", 0},
		{"negative component is unknown", "1:-5", 0},
		{"float is unknown", "12.5", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDurationSeconds(tt.input))
		})
	}
}

func TestFormatHMS(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    string
	}{
		{"zero", 0, "00:00:00"},
		{"under a minute", 59, "00:00:59"},
		{"exact minute", 60, "00:01:00"},
		{"half hour", 1800, "00:30:00"},
		{"over an hour", 3723, "01:02:03"},
		{"many hours", 36000, "10:00:00"},
		{"negative clamps to zero", -10, "00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatHMS(tt.seconds))
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	// FormatHMS output always parses back to the same second count
	for _, seconds := range []int{0, 59, 60, 307, 1800, 3723, 5400, 36000} {
		formatted := FormatHMS(seconds)
		assert.Equal(t, seconds, ParseDurationSeconds(formatted), "round trip for %d", seconds)
	}
}
