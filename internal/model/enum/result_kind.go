package enum

// ResultKind tags what a completed data task produced.
type ResultKind uint8

const (
	ResultUnknown ResultKind = iota
	ResultHistoricalBatch
	ResultHighPoints
	ResultMerged
	ResultRealtime
)

func (r ResultKind) String() string {
	switch r {
	case ResultHistoricalBatch:
		return "historical"
	case ResultHighPoints:
		return "high-points"
	case ResultMerged:
		return "merged"
	case ResultRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// Priority orders jobs in the request queue. Higher runs first.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	// PriorityRule is used for rule-engine refill loads so a suspended
	// rule resumes ahead of ordinary preloading.
	PriorityRule
)
