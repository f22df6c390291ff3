package recorder

// RunEvent is one audit row per completed run. It duplicates the durable
// execution record in queryable form; losing it never blocks a run.
type RunEvent struct {
	Date           string
	Zone           int
	Tier           int
	Recommendation string
	Price          float64
	Sentiment      float64
	DryRun         bool
	BuyUSD         float64
	SellQty        float64
	Outcome        string
}

// Recorder persists run history for later analysis.
type Recorder interface {
	RecordRun(evt *RunEvent) error
	Close() error
}
