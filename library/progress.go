package library

import "math"

// Fallback bounds used while the player has not reported a duration:
// once playback has started the estimate never reads 0%, and it never
// reaches the 96-100% band, which is reserved for duration-backed
// measurements so a duration-unknown episode is not marked finished.
const (
	fallbackFloorPercent   = 1
	fallbackCeilingPercent = 95
)

// EstimatePercent maps raw playback counters to a 0-100 resume
// percentage. With a known duration it is a plain rounded ratio. With
// durationMs <= 0 it falls back to a crude heuristic that treats about
// 50 seconds of playback as halfway.
func EstimatePercent(progressMs, durationMs int64) int {
	if durationMs > 0 {
		pct := int(math.Round(float64(progressMs) * 100 / float64(durationMs)))
		return clampPercent(pct, 0, 100)
	}
	if progressMs <= 0 {
		return 0
	}
	raw := int(progressMs/1000) * 2
	return clampPercent(raw, fallbackFloorPercent, fallbackCeilingPercent)
}

func clampPercent(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
