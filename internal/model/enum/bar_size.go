package enum

import "time"

// BarSize is the resolution of requested historical bars.
type BarSize uint8

const (
	_bar_size_beg BarSize = iota
	BarSizeSecond
	BarSizeMinute
	BarSizeHour
	BarSizeDay
	_bar_size_end
)

func (b BarSize) IsAvailable() bool {
	return b > _bar_size_beg && b < _bar_size_end
}

// Duration returns the span of a single bar.
func (b BarSize) Duration() time.Duration {
	switch b {
	case BarSizeSecond:
		return time.Second
	case BarSizeMinute:
		return time.Minute
	case BarSizeHour:
		return time.Hour
	case BarSizeDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (b BarSize) String() string {
	switch b {
	case BarSizeSecond:
		return "1 sec"
	case BarSizeMinute:
		return "1 min"
	case BarSizeHour:
		return "1 hour"
	case BarSizeDay:
		return "1 day"
	default:
		return "unknown"
	}
}
