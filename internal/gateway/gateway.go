// Package gateway defines the capability surface the core needs from the
// market-data gateway: issue historical and realtime bar requests against
// an account session and receive asynchronous callbacks. The wire protocol
// itself lives behind the Dialer.
package gateway

import (
	"context"
	"errors"
	"time"

	"linewatch/internal/model"
	"linewatch/internal/model/enum"
)

var (
	ErrNotConnected   = errors.New("gateway: not connected")
	ErrUnknownRequest = errors.New("gateway: unknown request id")
)

// Gateway error codes, as delivered through Handler.OnError.
const (
	// CodePacingViolation means the account issued requests too
	// frequently and is being throttled gateway-side.
	CodePacingViolation = 420
	// CodeNotConnected means the session dropped mid-request.
	CodeNotConnected = 504
	// Informational codes that carry no failure meaning and must be
	// ignored by request handling.
	CodeMarketDataFarmOK = 2104
	CodeHistDataFarmOK   = 2106
	CodeSecDefDataFarmOK = 2158
)

// IsBenign reports whether a code is informational noise.
func IsBenign(code int) bool {
	switch code {
	case CodeMarketDataFarmOK, CodeHistDataFarmOK, CodeSecDefDataFarmOK:
		return true
	default:
		return false
	}
}

// HistoricalRequest asks for bars ending at EndTime covering Duration.
type HistoricalRequest struct {
	ContractID  int64
	EndTime     time.Time
	Duration    time.Duration
	BarSize     enum.BarSize
	DataKind    enum.DataKind
	SessionOnly bool
}

// RealtimeRequest subscribes to a live bar stream.
type RealtimeRequest struct {
	ContractID     int64
	BarSizeSeconds int
	DataKind       enum.DataKind
	SessionOnly    bool
}

// Handler receives asynchronous gateway callbacks. Callbacks for one
// request may arrive from any goroutine; a finished marker or an error
// terminates a historical request.
type Handler interface {
	OnBar(reqID int64, bar model.GraphPoint)
	OnFinished(reqID int64)
	OnError(reqID int64, code int, msg string)
}

// Session is one authenticated connection identity to the gateway.
type Session interface {
	RequestHistoricalBars(req HistoricalRequest, h Handler) (int64, error)
	RequestRealtimeBars(req RealtimeRequest, h Handler) (int64, error)
	CancelRealtimeBars(reqID int64)
	CancelMarketData(reqID int64)
	Connected() bool
	Disconnect()
}

// Dialer establishes sessions for named accounts.
type Dialer interface {
	Dial(ctx context.Context, account string) (Session, error)
}
