package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu           sync.Mutex
	snapshots    []Snapshot
	deltas       []Delta
	positions    []model.Position
	errs         []error
	connected    int
	disconnected int
	resyncs      int
}

func (h *recordingHandler) OnSnapshot(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = append(h.snapshots, s)
}

func (h *recordingHandler) OnDelta(d Delta) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deltas = append(h.deltas, d)
}

func (h *recordingHandler) OnPosition(p model.Position) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positions = append(h.positions, p)
}

func (h *recordingHandler) OnConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *recordingHandler) OnDisconnected(error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected++
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnResync() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resyncs++
}

func (h *recordingHandler) counts() (snaps, deltas, connected, resyncs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snapshots), len(h.deltas), h.connected, h.resyncs
}

// httpToWS converts http:// URL to ws://
func httpToWS(url string) string {
	return "ws" + strings.TrimPrefix(url, "http")
}

type fakeExchange struct {
	conns    atomic.Int32
	gapFirst bool

	mu       sync.Mutex
	commands []map[string]any
	headers  []string
}

func (f *fakeExchange) handle(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer c.Close()
		n := f.conns.Add(1)

		f.mu.Lock()
		f.headers = append(f.headers, r.Header.Get("X-Test"))
		f.mu.Unlock()

		var cmd map[string]any
		if err := c.ReadJSON(&cmd); err != nil {
			return
		}
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		_ = c.WriteJSON(map[string]any{"id": cmd["id"], "type": "subscribed", "msg": map[string]any{"channel": "orderbook_delta", "sid": 7}})
		_ = c.WriteJSON(map[string]any{"type": "orderbook_snapshot", "sid": 7, "seq": 1, "msg": map[string]any{
			"market_ticker": "KXTEST-1",
			"yes":           [][2]int{{50, 10}, {48, 5}},
			"no":            [][2]int{{45, 8}},
		}})
		seq := 2
		if f.gapFirst && n == 1 {
			seq = 4
		}
		_ = c.WriteJSON(map[string]any{"type": "orderbook_delta", "sid": 7, "seq": seq, "msg": map[string]any{
			"market_ticker": "KXTEST-1", "price": 50, "delta": -10, "side": "yes",
		}})

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func newTestStream(url string) *Stream {
	return NewStream(StreamConfig{
		URL: url,
		Headers: func() (http.Header, error) {
			h := http.Header{}
			h.Set("X-Test", "signed")
			return h, nil
		},
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	})
}

func TestStreamDeliversSnapshotAndDelta(t *testing.T) {
	fx := &fakeExchange{}
	srv := httptest.NewServer(fx.handle(t))
	defer srv.Close()

	h := &recordingHandler{}
	s := newTestStream(httpToWS(srv.URL))
	require.NoError(t, s.Subscribe([]string{"KXTEST-1"}))
	require.NoError(t, s.Start(context.Background(), h))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		snaps, deltas, connected, _ := h.counts()
		return snaps == 1 && deltas == 1 && connected == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Connected())

	h.mu.Lock()
	snap := h.snapshots[0]
	delta := h.deltas[0]
	h.mu.Unlock()
	assert.Equal(t, "KXTEST-1", snap.Ticker)
	assert.Equal(t, []model.PriceLevel{{Price: 50, Quantity: 10}, {Price: 48, Quantity: 5}}, snap.Yes)
	assert.Equal(t, model.SideYes, delta.Side)
	assert.Equal(t, -10, delta.Delta)

	fx.mu.Lock()
	defer fx.mu.Unlock()
	require.Len(t, fx.commands, 1)
	assert.Equal(t, "subscribe", fx.commands[0]["cmd"])
	params := fx.commands[0]["params"].(map[string]any)
	assert.Equal(t, []any{"KXTEST-1"}, params["market_tickers"])
	assert.Equal(t, []any{"orderbook_delta"}, params["channels"])
	assert.Equal(t, "signed", fx.headers[0])
}

func TestStreamResubscribesAfterSequenceGap(t *testing.T) {
	fx := &fakeExchange{gapFirst: true}
	srv := httptest.NewServer(fx.handle(t))
	defer srv.Close()

	h := &recordingHandler{}
	s := newTestStream(httpToWS(srv.URL))
	require.NoError(t, s.Subscribe([]string{"KXTEST-1"}))
	require.NoError(t, s.Start(context.Background(), h))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		snaps, deltas, connected, resyncs := h.counts()
		return resyncs == 1 && connected >= 2 && snaps >= 2 && deltas >= 1
	}, 3*time.Second, 10*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.errs)
	assert.ErrorIs(t, h.errs[0], ErrSequenceGap)
	assert.GreaterOrEqual(t, h.disconnected, 1)

	fx.mu.Lock()
	defer fx.mu.Unlock()
	require.GreaterOrEqual(t, len(fx.commands), 2)
	assert.Equal(t, "subscribe", fx.commands[1]["cmd"])
}

func TestStreamStopIsIdempotent(t *testing.T) {
	fx := &fakeExchange{}
	srv := httptest.NewServer(fx.handle(t))
	defer srv.Close()

	s := newTestStream(httpToWS(srv.URL))
	h := &recordingHandler{}
	require.NoError(t, s.Start(context.Background(), h))
	assert.Error(t, s.Start(context.Background(), h))

	s.Stop()
	s.Stop()
	assert.False(t, s.Connected())
}

func TestPositionMessageConvertsCentiCents(t *testing.T) {
	raw := []byte(`{"market_ticker":"KXTEST-1","position":-12,"position_cost":123400,"realized_pnl":5000,"fees_paid":700,"volume":40}`)
	var m positionMsg
	require.NoError(t, json.Unmarshal(raw, &m))
	p := m.toModel()
	assert.Equal(t, -12, p.Contracts)
	assert.Equal(t, int64(1234), p.Cost)
	assert.Equal(t, int64(50), p.RealizedPnL)
	assert.Equal(t, int64(7), p.FeesPaid)
}
