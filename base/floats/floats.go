package floats

import (
	"math"
	"slices"
)

// Median returns the median of fs without reordering fs.
func Median(fs []float64) float64 {
	n := len(fs)
	if n == 0 {
		panic("unexpected number of values")
	}
	s := slices.Clone(fs)
	slices.Sort(s)
	i := n / 2
	if n%2 != 0 {
		return s[i]
	}
	return s[i-1] + (s[i]-s[i-1])/2.0
}

// MeanStddev returns the mean and the sample standard deviation of fs.
func MeanStddev(fs []float64) (mean, stddev float64) {
	n := len(fs)
	if n == 0 {
		panic("unexpected number of values")
	}
	// Welford
	var m2 float64
	for i, f := range fs {
		d := f - mean
		mean += d / float64(i+1)
		m2 += d * (f - mean)
	}
	if n > 1 {
		stddev = math.Sqrt(m2 / float64(n-1))
	}
	return mean, stddev
}
