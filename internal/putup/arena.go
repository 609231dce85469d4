package putup

import (
	"errors"
	"sync"

	"linewatch/internal/model"
)

var (
	ErrUnknownHandle = errors.New("putup: unknown handle")
	ErrWithdrawn     = errors.New("putup: security withdrawn")
)

// Arena owns every Security and its RunState, keyed by handle.
type Arena struct {
	mu     sync.RWMutex
	next   Handle
	byID   map[Handle]*record
	bySym  map[string]Handle
}

type record struct {
	security Security
	state    RunState
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		next:  1,
		byID:  make(map[Handle]*record),
		bySym: make(map[string]Handle),
	}
}

// Register adds a security and allocates its run state and graph.
func (a *Arena) Register(sec Security, calendar *model.Calendar) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.next
	a.next++
	sec.Handle = h
	a.byID[h] = &record{
		security: sec,
		state: RunState{
			Status: StatusIdle,
			Graph:  model.NewGraph(int(h), calendar),
		},
	}
	a.bySym[sec.Symbol] = h
	return h
}

// Security returns a copy of the security record.
func (a *Arena) Security(h Handle) (Security, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.byID[h]
	if !ok {
		return Security{}, ErrUnknownHandle
	}
	return rec.security, nil
}

// Lookup resolves a symbol to its handle.
func (a *Arena) Lookup(symbol string) (Handle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.bySym[symbol]
	return h, ok
}

// Graph returns the live graph for a security.
func (a *Arena) Graph(h Handle) (*model.Graph, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.byID[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return rec.state.Graph, nil
}

// Status returns the current monitoring status.
func (a *Arena) Status(h Handle) (Status, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.byID[h]
	if !ok {
		return StatusIdle, ErrUnknownHandle
	}
	return rec.state.Status, nil
}

// SetStatus transitions the monitoring status. Withdrawn is terminal.
func (a *Arena) SetStatus(h Handle, status Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.byID[h]
	if !ok {
		return ErrUnknownHandle
	}
	if rec.state.Status == StatusWithdrawn {
		return ErrWithdrawn
	}
	rec.state.Status = status
	return nil
}

// Withdraw marks the security terminally withdrawn with its fatal cause.
func (a *Arena) Withdraw(h Handle, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.byID[h]
	if !ok {
		return ErrUnknownHandle
	}
	rec.state.Status = StatusWithdrawn
	rec.state.WithdrawReason = cause
	return nil
}

// WithdrawReason returns the fatal cause for a withdrawn security.
func (a *Arena) WithdrawReason(h Handle) (error, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.byID[h]
	if !ok || rec.state.Status != StatusWithdrawn {
		return nil, false
	}
	return rec.state.WithdrawReason, true
}

// SetPrevClose records the previous close on both the security and its graph.
func (a *Arena) SetPrevClose(h Handle, price float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.byID[h]
	if !ok {
		return ErrUnknownHandle
	}
	rec.security.PrevClose = price
	rec.state.Graph.SetPrevClose(price)
	return nil
}

// CacheLines replaces the provisional lines kept for a security.
func (a *Arena) CacheLines(h Handle, lines []CachedLine) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.byID[h]
	if !ok {
		return ErrUnknownHandle
	}
	rec.state.CachedLines = append(rec.state.CachedLines[:0], lines...)
	return nil
}

// CachedLines returns a copy of the provisional lines for a security.
func (a *Arena) CachedLines(h Handle) ([]CachedLine, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.byID[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	out := make([]CachedLine, len(rec.state.CachedLines))
	copy(out, rec.state.CachedLines)
	return out, nil
}

// Active returns the handles currently under active monitoring.
func (a *Arena) Active() []Handle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Handle, 0, len(a.byID))
	for h, rec := range a.byID {
		if rec.state.Status == StatusMonitoring || rec.state.Status == StatusPreloading {
			out = append(out, h)
		}
	}
	return out
}
