// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"math"
	"slices"
	"time"
)

// -----------------------------------------------------------------------------
// Latency Statistics
// -----------------------------------------------------------------------------

// LatencyStats holds latency percentile statistics.
//
// Description:
//
//	LatencyStats provides min/max, mean/median, standard deviation and
//	percentiles. Percentiles use the nearest-rank method: the p-th
//	percentile of n sorted values is the value at rank ceil(p*n). Every
//	reported percentile is therefore an observed latency.
//
// Thread Safety: Safe for concurrent read access after creation.
type LatencyStats struct {
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Mean     time.Duration `json:"mean"`
	Median   time.Duration `json:"median"`
	StdDev   time.Duration `json:"stddev"`
	Variance float64       `json:"variance"`
	P50      time.Duration `json:"p50"`
	P90      time.Duration `json:"p90"`
	P95      time.Duration `json:"p95"`
	P99      time.Duration `json:"p99"`
	P999     time.Duration `json:"p999"`
}

// CalculateLatencyStats calculates latency statistics from samples.
//
// Description:
//
//	Sorts a copy of the samples and computes percentiles, mean and
//	population standard deviation. The input order does not affect the
//	result.
//
// Inputs:
//   - samples: Latency samples. Must not be empty.
//
// Outputs:
//   - LatencyStats: Calculated statistics.
//   - error: ErrNoSamples if samples is empty.
//
// Example:
//
//	stats, err := CalculateLatencyStats(latencies)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("P99: %v\n", stats.P99)
func CalculateLatencyStats(samples []time.Duration) (LatencyStats, error) {
	if len(samples) == 0 {
		return LatencyStats{}, ErrNoSamples
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	mean := calculateMean(sorted)
	variance := calculateVariance(sorted, mean)

	return LatencyStats{
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Mean:     time.Duration(mean),
		Median:   Percentile(sorted, 0.5),
		StdDev:   time.Duration(math.Sqrt(variance)),
		Variance: variance,
		P50:      Percentile(sorted, 0.5),
		P90:      Percentile(sorted, 0.9),
		P95:      Percentile(sorted, 0.95),
		P99:      Percentile(sorted, 0.99),
		P999:     Percentile(sorted, 0.999),
	}, nil
}

// Percentile returns the nearest-rank p-th percentile of sorted values.
// p is a fraction in [0, 1]; p <= 0 yields the minimum.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// CountAbove returns how many samples exceed threshold.
func CountAbove(samples []time.Duration, threshold time.Duration) int {
	n := 0
	for _, s := range samples {
		if s > threshold {
			n++
		}
	}
	return n
}

// RemoveOutliers removes outliers using the IQR method.
//
// Description:
//
//	Values outside [Q1 - threshold*IQR, Q3 + threshold*IQR] are removed.
//	If that would remove more than half the samples, the input is returned
//	unchanged.
//
// Inputs:
//   - samples: Duration samples. Fewer than 4 are returned unchanged.
//   - threshold: IQR multiplier (1.5 for mild outliers, 3.0 for extreme).
//
// Outputs:
//   - []time.Duration: Samples with outliers removed, in input order.
func RemoveOutliers(samples []time.Duration, threshold float64) []time.Duration {
	if len(samples) < 4 {
		return samples
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	q1 := Percentile(sorted, 0.25)
	q3 := Percentile(sorted, 0.75)
	iqr := q3 - q1

	lowerBound := q1 - time.Duration(threshold*float64(iqr))
	upperBound := q3 + time.Duration(threshold*float64(iqr))

	filtered := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		if s >= lowerBound && s <= upperBound {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) < len(samples)/2 {
		return samples
	}
	return filtered
}

// -----------------------------------------------------------------------------
// Comparison Statistics
// -----------------------------------------------------------------------------

// CalculateCohensD returns Cohen's d effect size between two sample sets,
// using the pooled standard deviation. Positive d means samples1 is slower.
// Returns 0 when either set is empty or the pooled deviation is zero.
func CalculateCohensD(samples1, samples2 []time.Duration) float64 {
	if len(samples1) == 0 || len(samples2) == 0 {
		return 0
	}

	mean1 := calculateMean(samples1)
	mean2 := calculateMean(samples2)
	var1 := calculateVariance(samples1, mean1)
	var2 := calculateVariance(samples2, mean2)

	n1 := float64(len(samples1))
	n2 := float64(len(samples2))
	if n1+n2 <= 2 {
		return 0
	}
	pooled := math.Sqrt(((n1-1)*var1 + (n2-1)*var2) / (n1 + n2 - 2))
	if pooled == 0 {
		return 0
	}
	return (mean1 - mean2) / pooled
}

// WelchTTest performs Welch's t-test for two sample sets.
//
// Description:
//
//	Does not assume equal variances or sizes. The p-value uses the normal
//	approximation for df >= 30 and a scaled approximation below that.
//
// Outputs:
//   - tStatistic: Negative if samples1 is faster than samples2.
//   - pValue: Approximate two-tailed p-value. 1 when either set has fewer
//     than two samples or both have zero variance.
//
// Limitations:
//   - For precise small-sample p-values use a t-distribution table.
func WelchTTest(samples1, samples2 []time.Duration) (tStatistic float64, pValue float64) {
	if len(samples1) < 2 || len(samples2) < 2 {
		return 0, 1
	}

	mean1 := calculateMean(samples1)
	mean2 := calculateMean(samples2)
	var1 := calculateVariance(samples1, mean1)
	var2 := calculateVariance(samples2, mean2)
	n1 := float64(len(samples1))
	n2 := float64(len(samples2))

	se := math.Sqrt(var1/n1 + var2/n2)
	if se == 0 {
		return 0, 1
	}
	tStatistic = (mean1 - mean2) / se

	// Welch-Satterthwaite
	num := math.Pow(var1/n1+var2/n2, 2)
	denom := math.Pow(var1/n1, 2)/(n1-1) + math.Pow(var2/n2, 2)/(n2-1)
	if denom == 0 {
		return tStatistic, 1
	}
	df := num / denom

	if df >= 30 {
		pValue = 2 * normalCDF(-math.Abs(tStatistic))
	} else if df > 2 {
		pValue = 2 * normalCDF(-math.Abs(tStatistic)*math.Sqrt(df/(df-2)))
	} else {
		pValue = 2 * normalCDF(-math.Abs(tStatistic))
	}
	return tStatistic, pValue
}

// ConfidenceInterval returns a symmetric confidence interval for the mean.
// Small samples (n < 30) use t critical values; larger ones use z-scores.
// Supported levels are 0.90, 0.95 and 0.99.
func ConfidenceInterval(samples []time.Duration, confidenceLevel float64) (lower, upper time.Duration) {
	switch len(samples) {
	case 0:
		return 0, 0
	case 1:
		return samples[0], samples[0]
	}

	mean := calculateMean(samples)
	stdErr := math.Sqrt(calculateVariance(samples, mean) / float64(len(samples)))
	margin := tCriticalValue(len(samples)-1, confidenceLevel) * stdErr
	return time.Duration(mean - margin), time.Duration(mean + margin)
}

func calculateMean(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples))
}

// calculateVariance returns the population variance.
func calculateVariance(samples []time.Duration, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquaredDiff float64
	for _, s := range samples {
		diff := float64(s) - mean
		sumSquaredDiff += diff * diff
	}
	return sumSquaredDiff / float64(len(samples))
}

func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// Two-tailed t critical values for df 1..30.
var (
	t90 = []float64{6.314, 2.920, 2.353, 2.132, 2.015, 1.943, 1.895, 1.860, 1.833, 1.812,
		1.796, 1.782, 1.771, 1.761, 1.753, 1.746, 1.740, 1.734, 1.729, 1.725,
		1.721, 1.717, 1.714, 1.711, 1.708, 1.706, 1.703, 1.701, 1.699, 1.697}
	t95 = []float64{12.706, 4.303, 3.182, 2.776, 2.571, 2.447, 2.365, 2.306, 2.262, 2.228,
		2.201, 2.179, 2.160, 2.145, 2.131, 2.120, 2.110, 2.101, 2.093, 2.086,
		2.080, 2.074, 2.069, 2.064, 2.060, 2.056, 2.052, 2.048, 2.045, 2.042}
	t99 = []float64{63.657, 9.925, 5.841, 4.604, 4.032, 3.707, 3.499, 3.355, 3.250, 3.169,
		3.106, 3.055, 3.012, 2.977, 2.947, 2.921, 2.898, 2.878, 2.861, 2.845,
		2.831, 2.819, 2.807, 2.797, 2.787, 2.779, 2.771, 2.763, 2.756, 2.750}
)

func tCriticalValue(df int, confidenceLevel float64) float64 {
	if df < 1 {
		df = 1
	}
	switch {
	case confidenceLevel >= 0.99:
		if df >= 30 {
			return 2.576
		}
		return t99[df-1]
	case confidenceLevel >= 0.95:
		if df >= 30 {
			return 1.96
		}
		return t95[df-1]
	default:
		if df >= 30 {
			return 1.645
		}
		return t90[df-1]
	}
}
