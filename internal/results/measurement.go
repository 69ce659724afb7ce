package results

import (
	"fmt"
	"math"

	"quicinterop/internal/outcome"
)

// MeasurementResult aggregates the repetitions of one measurement cell.
type MeasurementResult struct {
	Outcome outcome.Outcome
	// Values are the successful samples in repetition order
	Values []float64
	Mean   float64
	// Stdev is the sample standard deviation, 0 for a single sample
	Stdev   float64
	Unit    string
	Details string
}

// Aggregate summarizes samples. No samples at all is a failure.
func Aggregate(values []float64, unit string) MeasurementResult {
	if len(values) == 0 {
		return MeasurementResult{Outcome: outcome.Failed, Unit: unit}
	}
	mean, stdev := meanStdev(values)
	return MeasurementResult{
		Outcome: outcome.Succeeded,
		Values:  values,
		Mean:    mean,
		Stdev:   stdev,
		Unit:    unit,
		Details: fmt.Sprintf("%.2f (± %.2f) %s", mean, stdev, unit),
	}
}

// Aborted is the result of a measurement stopped by a non-successful
// repetition.
func Aborted(o outcome.Outcome, unit string) MeasurementResult {
	return MeasurementResult{Outcome: o, Unit: unit}
}

func meanStdev(values []float64) (mean, stdev float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}
