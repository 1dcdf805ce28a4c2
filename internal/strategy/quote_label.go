package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one price update from an external market-data provider.
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Time   time.Time
}

// QuoteProvider is an optional market-data source used for a strategy's
// reference price label.
type QuoteProvider interface {
	Subscribe(symbols []string, onQuotes func([]Quote)) (string, error)
	Unsubscribe(subscriptionID string) error
	GetQuotes(ctx context.Context, symbols []string) ([]Quote, error)
	IsAuthenticated() bool
}

const quoteUnavailable = "n/a"

// QuoteLabel keeps a single display string current for one symbol.
type QuoteLabel struct {
	provider QuoteProvider
	symbol   string
	log      *slog.Logger

	label atomic.Value // string
	mu    sync.Mutex
	subID string
}

func NewQuoteLabel(provider QuoteProvider, symbol string, log *slog.Logger) *QuoteLabel {
	if log == nil {
		log = slog.Default()
	}
	q := &QuoteLabel{provider: provider, symbol: symbol, log: log}
	q.label.Store(quoteUnavailable)
	return q
}

// Bind seeds the label and subscribes to updates. An unauthenticated
// provider leaves the label unavailable.
func (q *QuoteLabel) Bind(ctx context.Context) error {
	if q.provider == nil || q.symbol == "" {
		return nil
	}
	if !q.provider.IsAuthenticated() {
		q.log.Warn("quote provider not authenticated", "symbol", q.symbol)
		return nil
	}
	if quotes, err := q.provider.GetQuotes(ctx, []string{q.symbol}); err == nil {
		q.onQuotes(quotes)
	} else {
		q.log.Warn("initial quote fetch failed", "symbol", q.symbol, "error", err)
	}

	id, err := q.provider.Subscribe([]string{q.symbol}, q.onQuotes)
	if err != nil {
		return fmt.Errorf("subscribe quotes %s: %w", q.symbol, err)
	}
	q.mu.Lock()
	q.subID = id
	q.mu.Unlock()
	return nil
}

func (q *QuoteLabel) onQuotes(quotes []Quote) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("quote callback panic recovered", "panic", fmt.Sprint(r))
		}
	}()
	for _, quote := range quotes {
		if quote.Symbol == q.symbol {
			q.label.Store(formatQuote(quote))
		}
	}
}

func formatQuote(quote Quote) string {
	price := quote.Last
	if price.IsZero() && !quote.Bid.IsZero() && !quote.Ask.IsZero() {
		price = quote.Bid.Add(quote.Ask).Div(decimal.NewFromInt(2))
	}
	if price.IsZero() {
		return quote.Symbol + " " + quoteUnavailable
	}
	return quote.Symbol + " " + price.StringFixed(2)
}

func (q *QuoteLabel) Label() string {
	return q.label.Load().(string)
}

func (q *QuoteLabel) Unbind() {
	q.mu.Lock()
	id := q.subID
	q.subID = ""
	q.mu.Unlock()
	if id == "" || q.provider == nil {
		return
	}
	if err := q.provider.Unsubscribe(id); err != nil {
		q.log.Warn("quote unsubscribe failed", "error", err)
	}
}
