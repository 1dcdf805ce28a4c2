package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
)

const DefaultQuotePollInterval = 10 * time.Second

// MarketGetter loads one market's reference data.
type MarketGetter interface {
	GetMarket(ctx context.Context, ticker string) (model.Market, error)
}

// MarketQuotes is a QuoteProvider that treats exchange tickers as symbols
// and polls their top of book. Prices are reported in dollars.
type MarketQuotes struct {
	src      MarketGetter
	interval time.Duration
	log      *slog.Logger

	mu   sync.Mutex
	subs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

func NewMarketQuotes(src MarketGetter, interval time.Duration) *MarketQuotes {
	if interval <= 0 {
		interval = DefaultQuotePollInterval
	}
	return &MarketQuotes{
		src:      src,
		interval: interval,
		log:      logger.Component("quotes"),
		subs:     make(map[string]context.CancelFunc),
	}
}

func (q *MarketQuotes) IsAuthenticated() bool { return q.src != nil }

func (q *MarketQuotes) GetQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	out := make([]Quote, 0, len(symbols))
	var errs []error
	for _, s := range symbols {
		m, err := q.src.GetMarket(ctx, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, quoteFromMarket(m))
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (q *MarketQuotes) Subscribe(symbols []string, onQuotes func([]Quote)) (string, error) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.subs[id] = cancel
	q.mu.Unlock()

	syms := append([]string(nil), symbols...)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		t := time.NewTicker(q.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				quotes, err := q.GetQuotes(ctx, syms)
				if err != nil {
					q.log.Debug("quote poll failed", "symbols", syms, "error", err)
					continue
				}
				if len(quotes) > 0 {
					onQuotes(quotes)
				}
			}
		}
	}()
	return id, nil
}

func (q *MarketQuotes) Unsubscribe(id string) error {
	q.mu.Lock()
	cancel, ok := q.subs[id]
	delete(q.subs, id)
	q.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// Close stops every subscription and waits for the pollers.
func (q *MarketQuotes) Close() {
	q.mu.Lock()
	for id, cancel := range q.subs {
		cancel()
		delete(q.subs, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

var cents = decimal.NewFromInt(100)

func quoteFromMarket(m model.Market) Quote {
	return Quote{
		Symbol: m.Ticker,
		Bid:    decimal.NewFromInt(int64(m.YesBid)).Div(cents),
		Ask:    decimal.NewFromInt(int64(m.YesAsk)).Div(cents),
		Last:   decimal.NewFromInt(int64(m.LastPrice)).Div(cents),
		Time:   time.Now(),
	}
}
