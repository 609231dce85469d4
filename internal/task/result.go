package task

import (
	"time"

	"linewatch/internal/model"
	"linewatch/internal/model/enum"
	"linewatch/internal/putup"
)

// Result is the single outcome of one task execution. Either Graph is a
// frozen populated point set tagged with Kind, or Err carries the failure
// cause. Every registered listener receives the same Result; a failed task
// still delivers, so listeners never see a silently missing outcome.
type Result struct {
	Security putup.Handle
	Kind     enum.ResultKind
	Graph    *model.Graph
	Err      error
	Elapsed  time.Duration
}

// OK reports whether the task produced data.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil
}

// Listener receives the result of a task it registered on.
type Listener interface {
	OnResult(r *Result)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(r *Result)

func (f ListenerFunc) OnResult(r *Result) {
	f(r)
}
