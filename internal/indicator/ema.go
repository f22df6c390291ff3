package indicator

// EMA computes the exponential moving average of prices over the given
// period. Entries before index period-1 are nil (warm-up). The value at
// index period-1 is seeded with the simple mean of the first period prices;
// later values follow ema[i] = price[i]*k + ema[i-1]*(1-k) with k = 2/(period+1).
//
// Callers that need a defined value before warm-up completes must substitute
// the raw price themselves.
func EMA(prices []float64, period int) []*float64 {
	out := make([]*float64, len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}

	sum := 0.0
	for _, p := range prices[:period] {
		sum += p
	}
	prev := sum / float64(period)
	out[period-1] = ptr(prev)

	k := 2.0 / float64(period+1)
	for i := period; i < len(prices); i++ {
		prev = prices[i]*k + prev*(1-k)
		out[i] = ptr(prev)
	}
	return out
}

func ptr(v float64) *float64 { return &v }
