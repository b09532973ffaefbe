package assembly

import (
	"fmt"
	"math"
)

// ComputeOffsets returns the output-timeline start of each crossfade between
// clip i and i+1. The offset is taken from the cumulative output duration built
// so far, which already reflects every earlier overlap:
//
//	out_0 = d_0
//	offset_i = out_{i-1} - T
//	out_i = out_{i-1} + d_i - T
//
// The result has len(durations)-1 entries.
func ComputeOffsets(durations []float64, transition float64) ([]float64, error) {
	if len(durations) == 0 {
		return nil, fmt.Errorf("compute offsets: no clips")
	}
	if transition < 0 || math.IsNaN(transition) {
		return nil, fmt.Errorf("compute offsets: transition %.3fs must be >= 0", transition)
	}
	for i, d := range durations {
		if d <= 0 || math.IsNaN(d) {
			return nil, fmt.Errorf("compute offsets: clip %d has invalid duration %.3fs", i, d)
		}
	}
	if transition > 0 {
		if shortest := minDuration(durations); transition >= shortest {
			return nil, fmt.Errorf("compute offsets: transition %.3fs must be shorter than shortest clip %.3fs", transition, shortest)
		}
	}

	offsets := make([]float64, 0, len(durations)-1)
	cumulative := durations[0]
	for _, d := range durations[1:] {
		offsets = append(offsets, cumulative-transition)
		cumulative += d - transition
	}
	return offsets, nil
}

// TotalDuration is the output length after applying every overlap.
func TotalDuration(durations []float64, transition float64) float64 {
	var total float64
	for _, d := range durations {
		total += d
	}
	if len(durations) > 1 {
		total -= float64(len(durations)-1) * transition
	}
	return total
}

func minDuration(durations []float64) float64 {
	shortest := math.Inf(1)
	for _, d := range durations {
		if d < shortest {
			shortest = d
		}
	}
	return shortest
}
