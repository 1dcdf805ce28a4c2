package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityLogKeepsNewest(t *testing.T) {
	a := NewActivityLog("t", 3, nil)
	defer a.Close()
	for i := 1; i <= 5; i++ {
		a.Info("entry %d", i)
	}
	a.Trade("bought %d", 6)

	assert.Equal(t, 3, a.Len())
	all := a.Entries(0)
	require.Len(t, all, 3)
	assert.Equal(t, "entry 4", all[0].Message)
	assert.Equal(t, "bought 6", all[2].Message)
	assert.Equal(t, LevelTrade, all[2].Level)

	last := a.Entries(1)
	require.Len(t, last, 1)
	assert.Equal(t, "bought 6", last[0].Message)
}

func TestActivityLogListener(t *testing.T) {
	a := NewActivityLog("t", 0, nil)
	defer a.Close()
	assert.Equal(t, DefaultActivityCapacity, a.Capacity())

	got := make(chan Entry, 1)
	a.AddListener(func(e Entry) { got <- e })
	a.Warn("careful")

	select {
	case e := <-got:
		assert.Equal(t, LevelWarn, e.Level)
		assert.Equal(t, "careful", e.Message)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}

func TestDisplaySetCap(t *testing.T) {
	d := NewDisplaySet(10)
	d.Fill([]string{"A", "B", "A", "C", "D", "E"})
	assert.Equal(t, []string{"A", "B", "C", "D"}, d.List())
	assert.True(t, d.Full())
	assert.False(t, d.Add("E"))

	assert.True(t, d.Remove("B"))
	assert.True(t, d.Add("E"))
	assert.Equal(t, []string{"A", "C", "D", "E"}, d.List())
	assert.True(t, d.Contains("E"))

	d.Set([]string{"Z"})
	assert.Equal(t, []string{"Z"}, d.List())
}

func TestTimerStartStop(t *testing.T) {
	var mu sync.Mutex
	n := 0
	tm := NewTimer("t", 5*time.Millisecond, func(context.Context) {
		mu.Lock()
		n++
		mu.Unlock()
	}, nil)

	assert.True(t, tm.Start())
	assert.False(t, tm.Start())
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n >= 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, tm.Stop(time.Second))
	assert.False(t, tm.Running())
	assert.True(t, tm.Stop(time.Second))
}

type stubQuotes struct {
	mu       sync.Mutex
	authed   bool
	initial  []Quote
	callback func([]Quote)
	unsubbed bool
}

func (s *stubQuotes) Subscribe(_ []string, fn func([]Quote)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = fn
	return "sub-1", nil
}

func (s *stubQuotes) Unsubscribe(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "sub-1" {
		return fmt.Errorf("unknown subscription %s", id)
	}
	s.unsubbed = true
	return nil
}

func (s *stubQuotes) GetQuotes(context.Context, []string) ([]Quote, error) {
	return s.initial, nil
}

func (s *stubQuotes) IsAuthenticated() bool { return s.authed }

func TestQuoteLabel(t *testing.T) {
	p := &stubQuotes{
		authed:  true,
		initial: []Quote{{Symbol: "SPX", Last: decimal.RequireFromString("5801.5")}},
	}
	q := NewQuoteLabel(p, "SPX", nil)
	assert.Equal(t, "n/a", q.Label())

	require.NoError(t, q.Bind(context.Background()))
	assert.Equal(t, "SPX 5801.50", q.Label())

	p.callback([]Quote{
		{Symbol: "NDX", Last: decimal.NewFromInt(1)},
		{Symbol: "SPX", Bid: decimal.NewFromInt(10), Ask: decimal.NewFromInt(11)},
	})
	assert.Equal(t, "SPX 10.50", q.Label())

	q.Unbind()
	assert.True(t, p.unsubbed)
}

func TestQuoteLabelUnauthenticated(t *testing.T) {
	q := NewQuoteLabel(&stubQuotes{}, "SPX", nil)
	require.NoError(t, q.Bind(context.Background()))
	assert.Equal(t, "n/a", q.Label())
}

func TestStatusReadsQuoteLabelDuringInitialize(t *testing.T) {
	h := newHarness(t)
	h.svc.Quotes = &stubQuotes{
		authed:  true,
		initial: []Quote{{Symbol: "SPX", Last: decimal.NewFromInt(5800)}},
	}
	r := NewRunner(&hookStrategy{name: "q"}, WithTickers("T1"), WithQuoteSymbol("SPX"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = r.Status()
		}
	}()
	require.NoError(t, r.Initialize(context.Background(), h.svc))
	<-done

	assert.Equal(t, "SPX 5800.00", r.Status().QuoteLabel)
	require.NoError(t, r.Shutdown(context.Background()))
	assert.Equal(t, "SPX 5800.00", r.Status().QuoteLabel)
}

func TestNoMarketsErrorMessage(t *testing.T) {
	err := fmt.Errorf("init: %w", &NoMarketsError{EventTicker: "EV", TotalMarkets: 3})
	assert.True(t, IsNoMarkets(err))
	assert.Contains(t, err.Error(), "0 of 3 passed filter (none)")
}
