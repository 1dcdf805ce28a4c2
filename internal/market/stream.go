package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
	"github.com/goerajat/online-betting-sub000/internal/pkg/metrics"
	"github.com/gorilla/websocket"
)

const (
	DefaultPingPeriod     = 15 * time.Second // Keep-alive interval
	DefaultReconnBase     = 1 * time.Second
	DefaultReconnMaxDelay = 30 * time.Second

	channelOrderbook = "orderbook_delta"
	channelPositions = "market_positions"
)

// StreamConfig configures the websocket transport.
type StreamConfig struct {
	URL string

	// Headers returns the handshake headers. It is called on every dial so
	// signatures stay fresh.
	Headers            func() (http.Header, error)
	Positions          bool
	PingPeriod         time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	Dialer             *websocket.Dialer
}

// Stream is a websocket Transport. It reconnects with exponential backoff,
// re-subscribes every desired ticker after each connect and forces a
// reconnect when a subscription's sequence numbers skip.
type Stream struct {
	cfg StreamConfig
	log *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	desired map[string]struct{}
	sent    map[string]struct{}
	bookSID int64
	pending bool
	seqs    map[int64]int64
	handler StreamHandler

	writeMu   sync.Mutex
	nextID    atomic.Int64
	connected atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewStream(cfg StreamConfig) *Stream {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultReconnBase
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = DefaultReconnMaxDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Stream{
		cfg:     cfg,
		log:     logger.Component("stream"),
		desired: make(map[string]struct{}),
		sent:    make(map[string]struct{}),
		seqs:    make(map[int64]int64),
	}
}

// Start launches the connection loop in a background goroutine
func (s *Stream) Start(ctx context.Context, h StreamHandler) error {
	if h == nil {
		return errors.New("stream handler is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("stream already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.handler = h
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runLoop(ctx)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (s *Stream) Stop() {
	s.mu.Lock()
	cancel, done, conn := s.cancel, s.done, s.conn
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done
}

func (s *Stream) Connected() bool {
	return s.connected.Load()
}

// Subscribe adds tickers to the desired set and sends the command if connected.
func (s *Stream) Subscribe(tickers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tickers {
		s.desired[t] = struct{}{}
	}
	if s.conn == nil {
		return nil
	}
	return s.flushLocked()
}

// Unsubscribe removes tickers from the desired set.
func (s *Stream) Unsubscribe(tickers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var remove []string
	for _, t := range tickers {
		delete(s.desired, t)
		if _, ok := s.sent[t]; ok {
			remove = append(remove, t)
			delete(s.sent, t)
		}
	}
	if s.conn == nil || s.bookSID == 0 || len(remove) == 0 {
		return nil
	}
	return s.writeLocked(command{
		ID:  s.nextID.Add(1),
		Cmd: "update_subscription",
		Params: params{
			SIDs:          []int64{s.bookSID},
			MarketTickers: remove,
			Action:        "delete_markets",
		},
	})
}

// flushLocked sends whatever desired tickers this connection has not yet
// subscribed. Callers hold s.mu.
func (s *Stream) flushLocked() error {
	var add []string
	for t := range s.desired {
		if _, ok := s.sent[t]; !ok {
			add = append(add, t)
		}
	}
	if len(add) == 0 {
		return nil
	}
	sort.Strings(add)

	var cmd command
	switch {
	case s.bookSID != 0:
		cmd = command{
			ID:  s.nextID.Add(1),
			Cmd: "update_subscription",
			Params: params{
				SIDs:          []int64{s.bookSID},
				MarketTickers: add,
				Action:        "add_markets",
			},
		}
	case s.pending:
		// flushed again once the subscription is acknowledged
		return nil
	default:
		s.pending = true
		cmd = command{
			ID:     s.nextID.Add(1),
			Cmd:    "subscribe",
			Params: params{Channels: []string{channelOrderbook}, MarketTickers: add},
		}
	}
	if err := s.writeLocked(cmd); err != nil {
		return err
	}
	for _, t := range add {
		s.sent[t] = struct{}{}
	}
	return nil
}

func (s *Stream) writeLocked(cmd command) error {
	if s.conn == nil {
		return errors.New("no connection")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(cmd)
}

func (s *Stream) runLoop(ctx context.Context) {
	defer close(s.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectBaseDelay
	bo.MaxInterval = s.cfg.ReconnectMaxDelay

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			delay := bo.NextBackOff()
			s.log.Error("Connection failed", "error", err, "retry_in", delay)
			s.handler.OnError(fmt.Errorf("stream dial: %w", err))
			if !sleep(ctx, delay) {
				return
			}
			metrics.StreamReconnects.Inc()
			continue
		}
		bo.Reset()

		if err := s.attach(conn); err != nil {
			s.log.Error("Failed to resubscribe", "error", err)
			conn.Close()
			s.detach()
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}
		s.handler.OnConnected()

		err = s.readLoop(ctx, conn)
		s.detach()
		if ctx.Err() != nil {
			s.handler.OnDisconnected(nil)
			return
		}
		s.handler.OnDisconnected(err)

		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
		metrics.StreamReconnects.Inc()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	var header http.Header
	if s.cfg.Headers != nil {
		h, err := s.cfg.Headers()
		if err != nil {
			return nil, fmt.Errorf("auth headers: %w", err)
		}
		header = h
	}
	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs conn and replays every subscription on it.
func (s *Stream) attach(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.sent = make(map[string]struct{})
	s.seqs = make(map[int64]int64)
	s.bookSID = 0
	s.pending = false
	s.connected.Store(true)

	if s.cfg.Positions {
		if err := s.writeLocked(command{
			ID:     s.nextID.Add(1),
			Cmd:    "subscribe",
			Params: params{Channels: []string{channelPositions}},
		}); err != nil {
			return err
		}
	}
	return s.flushLocked()
}

func (s *Stream) detach() {
	s.mu.Lock()
	s.conn = nil
	s.bookSID = 0
	s.pending = false
	s.mu.Unlock()
	s.connected.Store(false)
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	// Zombie check: no data or pong within this window means the link is dead.
	readTimeout := s.cfg.PingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(ctx, conn, stopPing)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("Read error", "error", err)
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if err := s.dispatch(raw); err != nil {
			return err
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dispatch decodes one frame. A non-nil error ends the connection.
func (s *Stream) dispatch(raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Debug("skipping undecodable frame", "error", err)
		return nil
	}
	metrics.StreamMessages.WithLabelValues(env.Type).Inc()

	if err := s.checkSeq(env); err != nil {
		return err
	}

	switch env.Type {
	case "subscribed":
		var m subscribedMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return nil
		}
		if m.Channel == channelOrderbook {
			s.mu.Lock()
			s.bookSID = m.SID
			s.pending = false
			err := s.flushLocked()
			s.mu.Unlock()
			if err != nil {
				return err
			}
		}
	case "orderbook_snapshot":
		var m snapshotMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.handler.OnError(fmt.Errorf("decode snapshot: %w", err))
			return nil
		}
		s.handler.OnSnapshot(Snapshot{
			Ticker: m.MarketTicker,
			Yes:    toLevels(m.Yes),
			No:     toLevels(m.No),
			Seq:    env.Seq,
		})
	case "orderbook_delta":
		var m deltaMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.handler.OnError(fmt.Errorf("decode delta: %w", err))
			return nil
		}
		s.handler.OnDelta(Delta{
			Ticker:        m.MarketTicker,
			Side:          model.Side(m.Side),
			Price:         m.Price,
			Delta:         m.Delta,
			ClientOrderID: m.ClientOrderID,
			Seq:           env.Seq,
		})
	case "market_position":
		var m positionMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.handler.OnError(fmt.Errorf("decode position: %w", err))
			return nil
		}
		s.handler.OnPosition(m.toModel())
	case "error":
		var m errorMsg
		_ = json.Unmarshal(env.Msg, &m)
		s.handler.OnError(fmt.Errorf("stream error %d: %s", m.Code, m.Msg))
	}
	return nil
}

// checkSeq tracks the per-subscription sequence. A gap invalidates every
// book and drops the connection so the reconnect path fetches fresh snapshots.
func (s *Stream) checkSeq(env envelope) error {
	if env.SID == 0 || env.Seq == 0 {
		return nil
	}
	s.mu.Lock()
	last, seen := s.seqs[env.SID]
	s.seqs[env.SID] = env.Seq
	s.mu.Unlock()
	if !seen || env.Seq == last+1 {
		return nil
	}

	metrics.StreamGaps.Inc()
	err := fmt.Errorf("%w: sid %d expected %d got %d", ErrSequenceGap, env.SID, last+1, env.Seq)
	s.log.Warn("sequence gap, resubscribing", "sid", env.SID, "expected", last+1, "got", env.Seq)
	s.handler.OnError(err)
	s.handler.OnResync()
	return err
}

type command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params params `json:"params"`
}

type params struct {
	Channels      []string `json:"channels,omitempty"`
	MarketTickers []string `json:"market_tickers,omitempty"`
	SIDs          []int64  `json:"sids,omitempty"`
	Action        string   `json:"action,omitempty"`
}

type envelope struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

type subscribedMsg struct {
	Channel string `json:"channel"`
	SID     int64  `json:"sid"`
}

type snapshotMsg struct {
	MarketTicker string   `json:"market_ticker"`
	Yes          [][2]int `json:"yes"`
	No           [][2]int `json:"no"`
}

type deltaMsg struct {
	MarketTicker  string `json:"market_ticker"`
	Price         int    `json:"price"`
	Delta         int    `json:"delta"`
	Side          string `json:"side"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// positionMsg amounts are in centi-cents.
type positionMsg struct {
	MarketTicker string `json:"market_ticker"`
	Position     int    `json:"position"`
	PositionCost int64  `json:"position_cost"`
	RealizedPnL  int64  `json:"realized_pnl"`
	FeesPaid     int64  `json:"fees_paid"`
	Volume       int64  `json:"volume"`
}

func (m positionMsg) toModel() model.Position {
	return model.Position{
		Ticker:      m.MarketTicker,
		Contracts:   m.Position,
		Cost:        m.PositionCost / 100,
		RealizedPnL: m.RealizedPnL / 100,
		FeesPaid:    m.FeesPaid / 100,
		Volume:      m.Volume,
		LastUpdated: time.Now(),
	}
}

type errorMsg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func toLevels(raw [][2]int) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, r := range raw {
		out = append(out, model.PriceLevel{Price: r[0], Quantity: r[1]})
	}
	return out
}
