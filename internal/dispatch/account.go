// Package dispatch owns the gateway accounts and the priority request
// queue that feeds data tasks to them under the gateway pacing contract.
package dispatch

import (
	"context"
	"sync"
	"time"

	"linewatch/internal/gateway"
)

// Account is one rate-limited connection identity to the gateway. After
// every dispatch it is busy for the pacing cool-down; a reported pacing
// violation excludes it for the full penalty window.
type Account struct {
	name   string
	dialer gateway.Dialer

	mu             sync.Mutex
	session        gateway.Session
	busyUntil      time.Time
	exhaustedUntil time.Time
	history        []time.Time
}

// NewAccount creates an account that dials sessions through dialer.
func NewAccount(name string, dialer gateway.Dialer) *Account {
	return &Account{name: name, dialer: dialer}
}

// Name returns the account identity.
func (a *Account) Name() string {
	return a.name
}

// Available reports whether the account may take a dispatch at now.
func (a *Account) Available(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return now.After(a.busyUntil) && now.After(a.exhaustedUntil)
}

// AvailableAt returns the earliest instant the account frees up.
func (a *Account) AvailableAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exhaustedUntil.After(a.busyUntil) {
		return a.exhaustedUntil
	}
	return a.busyUntil
}

// MarkDispatched records a dispatch and starts the pacing cool-down.
func (a *Account) MarkDispatched(now time.Time, cooldown time.Duration) {
	a.mu.Lock()
	a.busyUntil = now.Add(cooldown)
	a.history = append(a.history, now)
	if len(a.history) > 64 {
		a.history = a.history[len(a.history)-64:]
	}
	a.mu.Unlock()
}

// MarkExhausted excludes the account for the penalty window.
func (a *Account) MarkExhausted(now time.Time, penalty time.Duration) {
	a.mu.Lock()
	a.exhaustedUntil = now.Add(penalty)
	a.mu.Unlock()
}

// RecentRequests counts dispatches within the trailing window ending at now.
func (a *Account) RecentRequests(now time.Time, window time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := now.Add(-window)
	count := 0
	for _, ts := range a.history {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// Session returns the live session, dialing one when necessary. A dial
// failure surfaces as-is so the task's connecting loop can back off.
func (a *Account) Session(ctx context.Context) (gateway.Session, error) {
	a.mu.Lock()
	if a.session != nil && a.session.Connected() {
		sess := a.session
		a.mu.Unlock()
		return sess, nil
	}
	a.mu.Unlock()

	sess, err := a.dialer.Dial(ctx, a.name)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()
	return sess, nil
}

// Disconnect drops the live session, if any.
func (a *Account) Disconnect() {
	a.mu.Lock()
	sess := a.session
	a.session = nil
	a.mu.Unlock()
	if sess != nil {
		sess.Disconnect()
	}
}
