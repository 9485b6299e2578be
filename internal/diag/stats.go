// Package diag holds signal-inspection helpers used by the debug
// capture path (spec.md §6's -d/--debug-level) to report what the
// modem is hearing. None of it sits on the real-time audio callback.
package diag

import "math"

// Stats summarizes one window of float32 samples.
type Stats struct {
	RMS          float64
	Peak         float32
	SilentCount  int
	TotalCount   int
	SilenceRatio float64
}

// RMS returns the root-mean-square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Calculate computes RMS, peak, and silence ratio in one pass.
// silenceThreshold is an absolute-amplitude cutoff below which a
// sample counts as silent.
func Calculate(samples []float32, silenceThreshold float32) Stats {
	stats := Stats{TotalCount: len(samples)}
	if len(samples) == 0 {
		return stats
	}

	var sum float64
	var peak float32
	var silent int
	for _, s := range samples {
		v := float64(s)
		sum += v * v

		abs := s
		if abs < 0 {
			abs = -abs
		}
		if abs > peak {
			peak = abs
		}
		if abs <= silenceThreshold {
			silent++
		}
	}

	stats.RMS = math.Sqrt(sum / float64(len(samples)))
	stats.Peak = peak
	stats.SilentCount = silent
	stats.SilenceRatio = float64(silent) / float64(len(samples))
	return stats
}

// IsSilent reports whether a window looks like silence: both its RMS
// falls below rmsThreshold and more than silenceRatioThreshold of its
// samples are at or below half that threshold in absolute value.
func IsSilent(samples []float32, rmsThreshold, silenceRatioThreshold float64) bool {
	if len(samples) == 0 {
		return true
	}
	if RMS(samples) >= rmsThreshold {
		return false
	}
	stats := Calculate(samples, float32(rmsThreshold*0.5))
	return stats.SilenceRatio > silenceRatioThreshold
}
