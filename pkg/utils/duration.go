package utils

import (
	"fmt"
	"time"
)

// FormatDuration renders a duration for the iteration timing summary:
// "12.3s", "4m 8.2s", "1h 12m 5s".
func FormatDuration(d time.Duration) string {
	seconds := d.Seconds()
	switch {
	case seconds < 60:
		return fmt.Sprintf("%.1fs", seconds)
	case seconds < 3600:
		minutes := int(seconds) / 60
		return fmt.Sprintf("%dm %.1fs", minutes, seconds-float64(minutes*60))
	default:
		hours := int(seconds) / 3600
		minutes := (int(seconds) % 3600) / 60
		return fmt.Sprintf("%dh %dm %.0fs", hours, minutes, seconds-float64(hours*3600)-float64(minutes*60))
	}
}
