package model

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrGraphFrozen = errors.New("graph: frozen")
)

// Graph is a timestamp-ordered, duplicate-free point set for one security.
// A live graph is shared between an ingestion task appending points and
// rule evaluations reading them; both sides go through the graph lock.
type Graph struct {
	mu sync.Mutex

	securityID int
	points     []GraphPoint
	prevClose  float64
	calendar   *Calendar
	frozen     bool

	// cached per-day sub-graphs, invalidated on append
	dayCache map[string]*Graph
}

// NewGraph creates an empty graph for a security.
func NewGraph(securityID int, calendar *Calendar) *Graph {
	return &Graph{
		securityID: securityID,
		calendar:   calendar,
		dayCache:   make(map[string]*Graph),
	}
}

// SecurityID returns the owning security's handle.
func (g *Graph) SecurityID() int {
	return g.securityID
}

// Calendar returns the trading-day calendar the graph was built with.
func (g *Graph) Calendar() *Calendar {
	return g.calendar
}

// SetPrevClose records the previous trading day's close.
func (g *Graph) SetPrevClose(price float64) {
	g.mu.Lock()
	g.prevClose = price
	g.mu.Unlock()
}

// PrevClose returns the previous trading day's close, zero when unknown.
func (g *Graph) PrevClose() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prevClose
}

// Append inserts a point keeping timestamp order, dropping exact-timestamp
// duplicates. Returns ErrGraphFrozen once the graph has been frozen.
func (g *Graph) Append(p GraphPoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return ErrGraphFrozen
	}
	g.insertLocked(p)
	return nil
}

// AppendAll inserts every point, keeping order and dropping duplicates.
func (g *Graph) AppendAll(points []GraphPoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return ErrGraphFrozen
	}
	for _, p := range points {
		g.insertLocked(p)
	}
	return nil
}

func (g *Graph) insertLocked(p GraphPoint) {
	n := len(g.points)
	idx := sort.Search(n, func(i int) bool {
		return !g.points[i].Time.Before(p.Time)
	})
	if idx < n && g.points[idx].Time.Equal(p.Time) {
		return
	}
	g.points = append(g.points, GraphPoint{})
	copy(g.points[idx+1:], g.points[idx:])
	g.points[idx] = p
	if len(g.dayCache) != 0 {
		g.dayCache = make(map[string]*Graph)
	}
}

// Freeze makes the graph read-only. Delivered results freeze their graphs
// so listeners can share them without copying.
func (g *Graph) Freeze() {
	g.mu.Lock()
	g.frozen = true
	g.mu.Unlock()
}

// Len returns the number of points.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.points)
}

// Snapshot copies the current point slice. Rule evaluation reads through
// snapshots so appends never race with scans.
func (g *Graph) Snapshot() []GraphPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GraphPoint, len(g.points))
	copy(out, g.points)
	return out
}

// Range copies the points inside [from, to).
func (g *Graph) Range(from, to time.Time) []GraphPoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	lo := sort.Search(len(g.points), func(i int) bool {
		return !g.points[i].Time.Before(from)
	})
	hi := sort.Search(len(g.points), func(i int) bool {
		return !g.points[i].Time.Before(to)
	})
	out := make([]GraphPoint, hi-lo)
	copy(out, g.points[lo:hi])
	return out
}

// First returns the earliest point.
func (g *Graph) First() (GraphPoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.points) == 0 {
		return GraphPoint{}, false
	}
	return g.points[0], true
}

// Last returns the latest point.
func (g *Graph) Last() (GraphPoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.points) == 0 {
		return GraphPoint{}, false
	}
	return g.points[len(g.points)-1], true
}

// Replicate returns a structurally independent copy. The copy is unfrozen
// and shares no slice storage, so filtering can mutate it while the
// original stays live.
func (g *Graph) Replicate() *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	points := make([]GraphPoint, len(g.points))
	copy(points, g.points)
	return &Graph{
		securityID: g.securityID,
		points:     points,
		prevClose:  g.prevClose,
		calendar:   g.calendar,
		dayCache:   make(map[string]*Graph),
	}
}

// Day returns the cached sub-graph holding one trading day's points.
func (g *Graph) Day(day time.Time) *Graph {
	key := day.Format("2006-01-02")

	g.mu.Lock()
	defer g.mu.Unlock()
	if sub, ok := g.dayCache[key]; ok {
		return sub
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	sub := &Graph{
		securityID: g.securityID,
		prevClose:  g.prevClose,
		calendar:   g.calendar,
		dayCache:   make(map[string]*Graph),
	}
	for _, p := range g.points {
		if !p.Time.Before(start) && p.Time.Before(end) {
			sub.points = append(sub.points, p)
		}
	}
	sub.frozen = true
	g.dayCache[key] = sub
	return sub
}

// SessionLow returns the lowest-priced point of the snapshot.
func (g *Graph) SessionLow() (GraphPoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.points) == 0 {
		return GraphPoint{}, false
	}
	low := g.points[0]
	for _, p := range g.points[1:] {
		if p.Low < low.Low {
			low = p
		}
	}
	return low, true
}
