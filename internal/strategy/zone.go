package strategy

// Zone is the discrete market regime driving position sizing.
type Zone int

const (
	ZoneAccumulate Zone = 1
	ZoneNeutral    Zone = 2
	ZoneReduce     Zone = 3
)

// Recommendation is the human-readable name of the zone.
func (z Zone) Recommendation() string {
	switch z {
	case ZoneAccumulate:
		return "accumulate"
	case ZoneReduce:
		return "reduce"
	default:
		return "neutral"
	}
}

// Analysis is the immutable per-day decision record.
type Analysis struct {
	Date           string   `json:"date"`
	Zone           Zone     `json:"zone"`
	Recommendation string   `json:"recommendation"`
	Tier           int      `json:"tier"`
	Price          float64  `json:"price"`
	Sentiment      float64  `json:"sentiment"`
	EMA20          *float64 `json:"ema20,omitempty"`
	EMA50          *float64 `json:"ema50,omitempty"`
	EMA100         *float64 `json:"ema100,omitempty"`
}

// Classify maps one market data point to a zone. A nil EMA means the window
// has not warmed up yet and disqualifies the zone that depends on it. The
// accumulate condition is evaluated first, so inputs where both numeric
// conditions hold resolve deterministically to zone 1.
func Classify(price, sentiment float64, ema20, ema50 *float64, t1, t3 float64) Zone {
	if ema50 != nil && price < *ema50 && sentiment < t1 {
		return ZoneAccumulate
	}
	if ema20 != nil && price > *ema20 && sentiment > t3 {
		return ZoneReduce
	}
	return ZoneNeutral
}

// SentimentTier maps sentiment to an informational 1-5 tier, independent of
// the zone.
func SentimentTier(sentiment float64) int {
	switch {
	case sentiment < 30:
		return 1
	case sentiment < 50:
		return 2
	case sentiment < 70:
		return 3
	case sentiment < 85:
		return 4
	default:
		return 5
	}
}
