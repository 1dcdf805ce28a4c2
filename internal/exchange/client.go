package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goerajat/online-betting-sub000/internal/model"
	"github.com/goerajat/online-betting-sub000/internal/pkg/apperrors"
	"github.com/goerajat/online-betting-sub000/internal/pkg/logger"
	"golang.org/x/time/rate"
)

const (
	ProdBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	DemoBaseURL = "https://demo-api.kalshi.co/trade-api/v2"
	ProdWSURL   = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	DemoWSURL   = "wss://demo-api.kalshi.co/trade-api/ws/v2"

	pageLimit = 200
)

// Gateway is the exchange REST surface the runtime consumes.
type Gateway interface {
	GetOrders(ctx context.Context) ([]model.Order, error)
	GetPositions(ctx context.Context) ([]model.Position, error)
	GetMarket(ctx context.Context, ticker string) (model.Market, error)
	GetEvent(ctx context.Context, eventTicker string) (model.Event, error)
	CreateOrder(ctx context.Context, req model.OrderRequest) (model.Order, error)
	AmendOrder(ctx context.Context, orderID string, req model.OrderRequest) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) (model.Order, error)
}

var _ Gateway = (*Client)(nil)

type Options struct {
	BaseURL    string
	Signer     *Signer
	RateLimit  float64
	RateBurst  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	pathPrefix string
	signer     *Signer
	limiter    *rate.Limiter
	http       *http.Client
	log        *slog.Logger
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DemoBaseURL
	}
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: opts.Timeout,
		}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		baseURL:    opts.BaseURL,
		pathPrefix: parsed.Path,
		signer:     opts.Signer,
		limiter:    limiter,
		http:       httpClient,
		log:        logger.Component("exchange"),
	}, nil
}

func (c *Client) GetOrders(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	err := c.paginate(ctx, "/portfolio/orders", url.Values{"status": {"resting"}}, func(raw json.RawMessage) (string, error) {
		var page struct {
			Orders []orderDTO `json:"orders"`
			Cursor string     `json:"cursor"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", err
		}
		for _, o := range page.Orders {
			out = append(out, o.toModel())
		}
		return page.Cursor, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return out, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]model.Position, error) {
	var out []model.Position
	err := c.paginate(ctx, "/portfolio/positions", url.Values{"count_filter": {"position"}}, func(raw json.RawMessage) (string, error) {
		var page struct {
			MarketPositions []positionDTO `json:"market_positions"`
			Cursor          string        `json:"cursor"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", err
		}
		for _, p := range page.MarketPositions {
			out = append(out, p.toModel())
		}
		return page.Cursor, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return out, nil
}

func (c *Client) GetMarket(ctx context.Context, ticker string) (model.Market, error) {
	var resp struct {
		Market marketDTO `json:"market"`
	}
	if err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(ticker), nil, nil, &resp); err != nil {
		return model.Market{}, fmt.Errorf("get market %s: %w", ticker, err)
	}
	return resp.Market.toModel(), nil
}

// GetEvent fetches an event with its nested markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (model.Event, error) {
	var resp struct {
		Event   eventDTO    `json:"event"`
		Markets []marketDTO `json:"markets"`
	}
	params := url.Values{"with_nested_markets": {"true"}}
	if err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(eventTicker), params, nil, &resp); err != nil {
		return model.Event{}, fmt.Errorf("get event %s: %w", eventTicker, err)
	}
	markets := resp.Event.Markets
	if len(markets) == 0 {
		markets = resp.Markets
	}
	ev := model.Event{
		EventTicker:  resp.Event.EventTicker,
		SeriesTicker: resp.Event.SeriesTicker,
		Title:        resp.Event.Title,
		SubTitle:     resp.Event.SubTitle,
		Category:     resp.Event.Category,
		StrikeDate:   parseTime(resp.Event.StrikeDate),
		Markets:      make([]model.Market, 0, len(markets)),
	}
	for _, m := range markets {
		ev.Markets = append(ev.Markets, m.toModel())
	}
	return ev, nil
}

func (c *Client) CreateOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	var resp struct {
		Order orderDTO `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/portfolio/orders", nil, newCreateOrderBody(req), &resp); err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}
	return resp.Order.toModel(), nil
}

// AmendOrder replaces price and total count of a resting order. req.Count
// is the new total contract count including anything already filled.
func (c *Client) AmendOrder(ctx context.Context, orderID string, req model.OrderRequest) (model.Order, error) {
	body := amendOrderBody{
		Ticker:        req.Ticker,
		Side:          string(req.Side),
		Action:        string(req.Action),
		Count:         req.Count,
		ClientOrderID: req.ClientOrderID,
	}
	price := req.Price
	if req.Side == model.SideNo {
		body.NoPrice = &price
	} else {
		body.YesPrice = &price
	}
	var resp struct {
		Order orderDTO `json:"order"`
	}
	path := "/portfolio/orders/" + url.PathEscape(orderID) + "/amend"
	if err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return model.Order{}, fmt.Errorf("amend order %s: %w", orderID, err)
	}
	return resp.Order.toModel(), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (model.Order, error) {
	var resp struct {
		Order orderDTO `json:"order"`
	}
	if err := c.do(ctx, http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil, &resp); err != nil {
		return model.Order{}, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return resp.Order.toModel(), nil
}

// paginate follows cursors until the server returns an empty one.
func (c *Client) paginate(ctx context.Context, path string, params url.Values, page func(json.RawMessage) (string, error)) error {
	cursor := ""
	for {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("limit", strconv.Itoa(pageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var raw json.RawMessage
		if err := c.do(ctx, http.MethodGet, path, q, nil, &raw); err != nil {
			return err
		}
		next, err := page(raw)
		if err != nil {
			return fmt.Errorf("decoding page: %w", err)
		}
		if next == "" || next == cursor {
			return nil
		}
		cursor = next
	}
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		headers, err := c.signer.Headers(method, c.pathPrefix+path)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header[k] = v
		}
	}

	c.log.Debug("exchange request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &apperrors.APIError{Status: resp.StatusCode, Body: string(raw)}
		var eb apiErrorBody
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		}
		c.log.Warn("exchange API error", "status", resp.StatusCode, "code", apiErr.Code, "path", path)
		return apiErr
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
