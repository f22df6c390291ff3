package feed

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// ErrDataUnavailable reports that the feed could not be fetched or the
// payload did not contain usable price and sentiment series.
var ErrDataUnavailable = errors.New("feed: data unavailable")

const dateLayout = "2006-01-02"

// Payload is the raw feed document. The upstream has renamed both series
// over time, so each one is accepted under two aliases.
type Payload struct {
	Price      map[string]float64 `json:"Price"`
	BTC        map[string]float64 `json:"BTC"`
	Confidence map[string]float64 `json:"Confidence"`
	CBBI       map[string]float64 `json:"CBBI"`
}

// Point is one normalized market data point: a UTC calendar date, a positive
// price, and a 0-100 sentiment reading.
type Point struct {
	Date      string
	Price     float64
	Sentiment float64
}

// Normalize turns a raw payload into an ordered, deduplicated daily series.
// Timestamps may be unix seconds or milliseconds. Sentiment values at or
// below 1 are treated as fractional and rescaled to 0-100; missing or zero
// sentiment defaults to 50. Points with non-positive price are dropped.
// Duplicate calendar dates collapse to the latest timestamp of that date.
func Normalize(p Payload) ([]Point, error) {
	prices := p.Price
	if len(prices) == 0 {
		prices = p.BTC
	}
	sentiment := p.Confidence
	if len(sentiment) == 0 {
		sentiment = p.CBBI
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: price series missing", ErrDataUnavailable)
	}
	if len(sentiment) == 0 {
		return nil, fmt.Errorf("%w: sentiment series missing", ErrDataUnavailable)
	}

	keys := make([]string, 0, len(prices))
	stamps := make(map[string]int64, len(prices))
	for k := range prices {
		ts, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: non-numeric timestamp %q", ErrDataUnavailable, k)
		}
		keys = append(keys, k)
		stamps[k] = ts
	}
	sort.Slice(keys, func(i, j int) bool { return stamps[keys[i]] < stamps[keys[j]] })

	series := make([]Point, 0, len(keys))
	for _, k := range keys {
		price := prices[k]
		if price <= 0 {
			continue
		}
		sec := stamps[k]
		if sec >= 1e10 { // milliseconds
			sec /= 1000
		}
		point := Point{
			Date:      time.Unix(sec, 0).UTC().Format(dateLayout),
			Price:     price,
			Sentiment: normalizeSentiment(sentiment, k),
		}
		if n := len(series); n > 0 && series[n-1].Date == point.Date {
			series[n-1] = point
			continue
		}
		series = append(series, point)
	}
	return series, nil
}

func normalizeSentiment(m map[string]float64, key string) float64 {
	v, ok := m[key]
	if !ok {
		return 50
	}
	if v <= 1 {
		v = math.Round(v * 100)
	}
	if v == 0 {
		return 50
	}
	return v
}
