// Package putup holds the monitored-security records and their live run
// state. Records are addressed by integer handles through an arena, never
// by mutual pointers, so the pipeline, rule engine and line generation can
// reference the same security without back-reference cycles.
package putup

import (
	"linewatch/internal/model"
)

// Handle addresses a security inside the arena. Zero is never valid.
type Handle int

// Status tracks whether a security is actively monitored.
type Status uint8

const (
	StatusIdle Status = iota
	StatusPreloading
	StatusMonitoring
	StatusWithdrawn
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPreloading:
		return "preloading"
	case StatusMonitoring:
		return "monitoring"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Security describes one tradable instrument being monitored.
type Security struct {
	Handle          Handle
	Symbol          string
	ContractID      int64
	VolatilityClass int
	// MinPivot is the minimum retracement, as a fraction of price, for a
	// peak to count as a pivot. Provided by the classification tables.
	MinPivot float64
	// PrevClose is the prior trading day's close, filled by preloading.
	PrevClose float64
}

// RunState is the mutable per-security state owned by the arena. The graph
// inside is the one structure shared between ingestion and rule reads.
type RunState struct {
	Status Status
	Graph  *model.Graph
	// Provisional trend lines cached between evaluations.
	CachedLines []CachedLine
	// WithdrawReason holds the fatal cause once Status is Withdrawn.
	WithdrawReason error
}

// CachedLine is a provisional line kept on the run state between pattern
// evaluations.
type CachedLine struct {
	Start    model.GraphPoint
	End      model.GraphPoint
	Gradient float64
}
