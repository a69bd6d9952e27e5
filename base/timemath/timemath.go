package timemath

import (
	"math"
	"time"
)

// Duration converts microseconds to a time.Duration.
func Duration(usecs float64) time.Duration {
	return time.Duration(usecs * float64(time.Microsecond))
}

// Usecs converts a time.Duration to microseconds.
func Usecs(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

func Abs(d time.Duration) time.Duration {
	switch {
	case d == math.MinInt64:
		panic("unexpected duration value")
	case d < 0:
		return -d
	default:
		return d
	}
}

// Clamp limits d to [lo, hi].
func Clamp(d, lo, hi time.Duration) time.Duration {
	if lo > hi {
		panic("invalid bounds")
	}
	return min(max(d, lo), hi)
}
