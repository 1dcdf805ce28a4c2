package strategy

import (
	"context"
	"fmt"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

// EventScope limits a strategy to the markets of one event that pass Filter
// and the strategy's own ShouldTrackMarket.
type EventScope struct {
	EventTicker       string
	Filter            func(model.Market) bool
	FilterDescription string
	// ContinueOnNoMarkets keeps the runner with zero tracked markets instead
	// of failing Initialize with a NoMarketsError.
	ContinueOnNoMarkets bool
}

type EventSource interface {
	GetEvent(ctx context.Context, eventTicker string) (model.Event, error)
}

// resolve returns the tickers to track and the number of markets considered.
func (s EventScope) resolve(ctx context.Context, src EventSource, strat Strategy) ([]string, int, error) {
	ev, err := src.GetEvent(ctx, s.EventTicker)
	if err != nil {
		return nil, 0, fmt.Errorf("load event %s: %w", s.EventTicker, err)
	}
	own, _ := strat.(MarketFilter)

	var tickers []string
	for _, m := range ev.Markets {
		if s.Filter != nil && !s.Filter(m) {
			continue
		}
		if own != nil && !own.ShouldTrackMarket(m) {
			continue
		}
		tickers = append(tickers, m.Ticker)
	}
	return dedupe(tickers), len(ev.Markets), nil
}

func dedupe(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
