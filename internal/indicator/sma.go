package indicator

// SMA calculates the simple moving average over a rolling window.
// Returns slice of length: len(prices) - period + 1
func SMA(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return []float64{}
	}

	result := make([]float64, 0, len(prices)-period+1)
	var sum float64
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			result = append(result, sum/float64(period))
		}
	}
	return result
}

// EMA calculates the exponential moving average, seeded with the simple
// average of the first period prices.
// Returns slice of length: len(prices) - period + 1
func EMA(prices []float64, period int) []float64 {
	if period < 1 || len(prices) < period {
		return []float64{}
	}

	var sum float64
	for _, p := range prices[:period] {
		sum += p
	}
	ema := sum / float64(period)
	alpha := 2.0 / float64(period+1)

	result := make([]float64, 0, len(prices)-period+1)
	result = append(result, ema)
	for _, p := range prices[period:] {
		ema += alpha * (p - ema)
		result = append(result, ema)
	}
	return result
}
