package engines

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DurationModel predicts spoken length from character count.
type DurationModel struct {
	// CharsPerMinute at speed 1.0
	CharsPerMinute int
	// Floor is the minimum estimate for non-empty text
	Floor time.Duration
}

// Per-backend duration models.
var (
	BuiltinDurationModel     = DurationModel{CharsPerMinute: 900, Floor: 500 * time.Millisecond}
	ExternalDurationModel    = DurationModel{CharsPerMinute: 1000, Floor: 300 * time.Millisecond}
	PlaceholderDurationModel = DurationModel{CharsPerMinute: 800, Floor: time.Second}
)

// Estimate returns the expected playback time of text at speed. It grows
// with text length, shrinks with speed and never drops below Floor for
// non-empty text.
func (m DurationModel) Estimate(text string, speed float64) time.Duration {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	if speed <= 0 {
		speed = 1.0
	}
	d := time.Duration(float64(n) * float64(time.Minute) / (float64(m.CharsPerMinute) * speed))
	return max(d, m.Floor)
}
