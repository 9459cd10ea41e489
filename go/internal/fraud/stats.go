package fraud

import (
	"math"
	"time"
)

// Timing statistics over recorded per-question durations. All values are
// in float64 seconds so thresholds read the way analysts write them.

func mean(times []time.Duration) float64 {
	if len(times) == 0 {
		return 0
	}
	var total float64
	for _, t := range times {
		total += t.Seconds()
	}
	return total / float64(len(times))
}

// variance is the population variance in seconds squared.
func variance(times []time.Duration) float64 {
	if len(times) == 0 {
		return 0
	}
	m := mean(times)
	var sum float64
	for _, t := range times {
		d := t.Seconds() - m
		sum += d * d
	}
	return sum / float64(len(times))
}

func stdDev(times []time.Duration) float64 {
	return math.Sqrt(variance(times))
}

// repeatedDeltaRatio reports what share of consecutive answer-time deltas
// recur. Deltas are bucketed at 100ms so organic jitter does not hide a
// scripted cadence. Returns 0 when there are fewer than two deltas.
func repeatedDeltaRatio(times []time.Duration) float64 {
	if len(times) < 3 {
		return 0
	}
	buckets := make(map[int64]int, len(times)-1)
	for i := 1; i < len(times); i++ {
		delta := times[i] - times[i-1]
		if delta < 0 {
			delta = -delta
		}
		buckets[int64(delta/(100*time.Millisecond))]++
	}
	deltas := len(times) - 1
	repeated := 0
	for _, n := range buckets {
		if n > 1 {
			repeated += n
		}
	}
	return float64(repeated) / float64(deltas)
}
