package indicator

import "math"

// Returns calculates simple period-over-period returns.
// Returns slice of length: len(prices) - 1
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			result = append(result, 0)
			continue
		}
		result = append(result, (prices[i]-prices[i-1])/prices[i-1])
	}
	return result
}

// StdDev calculates the sample standard deviation of values.
// Returns 0 for fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// ZScore calculates how many standard deviations the last price sits from
// the mean of the trailing lookback window. Returns 0 when the window has
// no dispersion or insufficient data.
func ZScore(prices []float64, lookback int) float64 {
	if len(prices) < lookback || lookback < 2 {
		return 0
	}

	window := prices[len(prices)-lookback:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(lookback)

	std := StdDev(window)
	if std == 0 {
		return 0
	}
	return (window[len(window)-1] - mean) / std
}
