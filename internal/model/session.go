package model

import "time"

// Session describes one trading day's regular hours.
type Session struct {
	Open  time.Time
	Close time.Time
}

// Contains reports whether ts falls inside regular hours. The open is
// inclusive, the close exclusive.
func (s Session) Contains(ts time.Time) bool {
	return !ts.Before(s.Open) && ts.Before(s.Close)
}

// OpeningWindow returns the window covering the first span of the session.
func (s Session) OpeningWindow(span time.Duration) Session {
	end := s.Open.Add(span)
	if end.After(s.Close) {
		end = s.Close
	}
	return Session{Open: s.Open, Close: end}
}

// Calendar resolves trading days to their sessions. Weekends and
// exchange holidays have no session.
type Calendar struct {
	open     time.Duration // offset from midnight, exchange local time
	close    time.Duration
	loc      *time.Location
	holidays map[string]struct{} // keyed yyyy-mm-dd
}

// NewCalendar builds a calendar with fixed daily open/close offsets.
func NewCalendar(open, close time.Duration, loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{
		open:     open,
		close:    close,
		loc:      loc,
		holidays: make(map[string]struct{}),
	}
}

// AddHoliday marks a date as non-trading.
func (c *Calendar) AddHoliday(day time.Time) {
	c.holidays[day.In(c.loc).Format("2006-01-02")] = struct{}{}
}

// IsTradingDay reports whether the date of ts has a session.
func (c *Calendar) IsTradingDay(ts time.Time) bool {
	local := ts.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[local.Format("2006-01-02")]
	return !holiday
}

// SessionFor returns the session of the trading day containing ts.
func (c *Calendar) SessionFor(ts time.Time) (Session, bool) {
	if !c.IsTradingDay(ts) {
		return Session{}, false
	}
	local := ts.In(c.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	return Session{
		Open:  midnight.Add(c.open),
		Close: midnight.Add(c.close),
	}, true
}

// PrevTradingDay returns the start of the closest trading day strictly
// before the date of ts.
func (c *Calendar) PrevTradingDay(ts time.Time) time.Time {
	local := ts.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for {
		day = day.AddDate(0, 0, -1)
		if c.IsTradingDay(day) {
			return day
		}
	}
}

// TradingDaysBetween counts trading days in (from, to], used by duration
// scoring over deeper history.
func (c *Calendar) TradingDaysBetween(from, to time.Time) int {
	if !from.Before(to) {
		return 0
	}
	count := 0
	day := from.In(c.loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	for {
		day = day.AddDate(0, 0, 1)
		if day.After(to.In(c.loc)) {
			return count
		}
		if c.IsTradingDay(day) {
			count++
		}
	}
}

// FilterSession keeps only points inside their trading day's regular
// hours. The filter is idempotent: filtering a filtered set is a no-op.
func (c *Calendar) FilterSession(points []GraphPoint) []GraphPoint {
	out := make([]GraphPoint, 0, len(points))
	for _, p := range points {
		session, ok := c.SessionFor(p.Time)
		if !ok {
			continue
		}
		if session.Contains(p.Time) {
			out = append(out, p)
		}
	}
	return out
}
