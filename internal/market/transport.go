package market

import (
	"context"
	"errors"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

var ErrSequenceGap = errors.New("stream sequence gap")

// Snapshot replaces both ladders of one ticker.
type Snapshot struct {
	Ticker string
	Yes    []model.PriceLevel
	No     []model.PriceLevel
	Seq    int64
}

// Delta changes the quantity at one price of one side.
type Delta struct {
	Ticker        string
	Side          model.Side
	Price         int
	Delta         int
	ClientOrderID string
	Seq           int64
}

// StreamHandler receives everything a Transport decodes. Callbacks run on
// the transport's read goroutine and must return quickly.
type StreamHandler interface {
	OnSnapshot(Snapshot)
	OnDelta(Delta)
	OnPosition(model.Position)
	OnConnected()
	OnDisconnected(err error)
	OnError(err error)
	// OnResync fires when the stream detected lost messages; every book
	// must be treated as stale until its next snapshot.
	OnResync()
}

// Transport is a push channel for order book and position updates.
type Transport interface {
	Start(ctx context.Context, h StreamHandler) error
	Stop()
	Subscribe(tickers []string) error
	Unsubscribe(tickers []string) error
	Connected() bool
}
