package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"linewatch/internal/model"
)

// BarFeed streams realtime bars from the gateway's websocket endpoint.
// Historical loads go through Session; the feed only carries live bars.
type BarFeed struct {
	wss *ws.WebSocket
}

// NewBarFeed prepares a feed against the given websocket URL.
func NewBarFeed(ctx context.Context, url string) *BarFeed {
	return &BarFeed{
		wss: ws.New(ctx, url),
	}
}

func (f *BarFeed) Len() int {
	return f.wss.Len()
}

func (f *BarFeed) Close() {
	f.wss.Close()
}

func (f *BarFeed) CloseWhenEmpty() bool {
	if f.Len() == 0 {
		f.Close()
		logs.Info("close bar feed. reason: empty")
		return true
	}

	return false
}

func (f *BarFeed) StartWebsocket(ctx context.Context) error {
	if err := f.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type feedSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type feedSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// SubscribeBars registers a live bar stream for one symbol.
func (f *BarFeed) SubscribeBars(ctx context.Context, symbol string, barSeconds int) error {
	if err := f.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			payload := feedSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: []string{
					"bars." + symbol + "." + strconv.Itoa(barSeconds) + "s",
				},
				ID: 1,
			}

			if err := client.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp feedSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// FeedBar is one live bar frame from the stream.
type FeedBar struct {
	EventType string          `json:"e"`
	Symbol    string          `json:"s"`
	TimeMilli int64           `json:"t"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	WAP       decimal.Decimal `json:"w"`
	Volume    int64           `json:"v"`
}

// Point converts the frame into a graph point.
func (b FeedBar) Point() (model.GraphPoint, error) {
	open, err := strconv.ParseFloat(b.Open.String(), 64)
	if err != nil {
		return model.GraphPoint{}, errors.Wrap(err, "parse open")
	}
	high, err := strconv.ParseFloat(b.High.String(), 64)
	if err != nil {
		return model.GraphPoint{}, errors.Wrap(err, "parse high")
	}
	low, err := strconv.ParseFloat(b.Low.String(), 64)
	if err != nil {
		return model.GraphPoint{}, errors.Wrap(err, "parse low")
	}
	cls, err := strconv.ParseFloat(b.Close.String(), 64)
	if err != nil {
		return model.GraphPoint{}, errors.Wrap(err, "parse close")
	}
	wap, err := strconv.ParseFloat(b.WAP.String(), 64)
	if err != nil {
		return model.GraphPoint{}, errors.Wrap(err, "parse wap")
	}
	return model.GraphPoint{
		Time:   time.UnixMilli(b.TimeMilli),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  cls,
		WAP:    wap,
		Volume: b.Volume,
	}, nil
}

// ObserveBars consumes live bar frames until the context ends.
func (f *BarFeed) ObserveBars(ctx context.Context, handler func(b FeedBar)) (unsubscribe func()) {
	ch, cancel := f.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				bar, ok := ws.ReadMessage[FeedBar](m)
				if !ok || bar.EventType != "bar" {
					continue
				}

				handler(bar)
			}
		}
	}()

	return cancel
}
