// Package upstox implements the brokerage REST client and the binary
// market data feed for Upstox.
package upstox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/arvindrk/silverbot/internal/domain"
)

// Client is the REST client for the Upstox trading API. Authentication is
// a bearer token observed through a TokenSource, so a rotated token is
// picked up on the next request without restarting.
type Client struct {
	baseURL       string
	instrumentKey string
	orderTag      string
	tokens        domain.TokenSource
	httpClient    *http.Client
}

// NewClient creates a new Upstox REST client.
//
// baseURL is the API root, e.g. "https://api.upstox.com".
func NewClient(baseURL, instrumentKey string, tokens domain.TokenSource) *Client {
	return &Client{
		baseURL:       baseURL,
		instrumentKey: instrumentKey,
		orderTag:      "API_BOT",
		tokens:        tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PlaceLimitOrder submits a day limit order and returns the broker order id.
func (c *Client) PlaceLimitOrder(ctx context.Context, side domain.OrderSide, qty int, limitPrice float64) (string, error) {
	req := placeOrderRequest{
		Quantity:        qty,
		Product:         "D",
		Validity:        "DAY",
		Price:           limitPrice,
		Tag:             c.orderTag,
		InstrumentToken: c.instrumentKey,
		OrderType:       "LIMIT",
		TransactionType: string(side),
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v3/order/place", nil, req)
	if err != nil {
		return "", fmt.Errorf("upstox: place limit order: %w", err)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("upstox: decode place response: %w", err)
	}

	return firstOrderID(resp), nil
}

// PlaceStopOrder submits a stop-market order resting at triggerPrice.
func (c *Client) PlaceStopOrder(ctx context.Context, side domain.OrderSide, qty int, triggerPrice float64) (string, error) {
	req := placeOrderRequest{
		Quantity:        qty,
		Product:         "D",
		Validity:        "DAY",
		Tag:             c.orderTag + "_SL",
		InstrumentToken: c.instrumentKey,
		OrderType:       "SL-M",
		TransactionType: string(side),
		TriggerPrice:    triggerPrice,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v3/order/place", nil, req)
	if err != nil {
		return "", fmt.Errorf("upstox: place stop order: %w", err)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("upstox: decode place response: %w", err)
	}

	id := firstOrderID(resp)
	if id == "" {
		return "", fmt.Errorf("upstox: place stop order: broker returned no order id")
	}
	return id, nil
}

// ModifyStopOrder moves an existing stop order to a new trigger price.
func (c *Client) ModifyStopOrder(ctx context.Context, orderID string, qty int, triggerPrice float64) error {
	req := modifyOrderRequest{
		OrderID:      orderID,
		Quantity:     qty,
		Validity:     "DAY",
		OrderType:    "SL-M",
		TriggerPrice: triggerPrice,
	}

	if _, err := c.doRequest(ctx, http.MethodPut, "/v2/order/modify", nil, req); err != nil {
		return fmt.Errorf("upstox: modify order %s: %w", orderID, err)
	}
	return nil
}

// CancelOrder cancels an order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	params := url.Values{"order_id": {orderID}}
	if _, err := c.doRequest(ctx, http.MethodDelete, "/v2/order/cancel", params, nil); err != nil {
		return fmt.Errorf("upstox: cancel order %s: %w", orderID, err)
	}
	return nil
}

// Order returns the broker's view of one order. An order the book does not
// list yet maps to domain.ErrNotFound so verification keeps polling.
func (c *Client) Order(ctx context.Context, orderID string) (domain.BrokerOrder, error) {
	orders, err := c.allOrders(ctx)
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("upstox: get order %s: %w", orderID, err)
	}

	for _, w := range orders {
		if w.OrderID == orderID {
			return w.toBrokerOrder(), nil
		}
	}
	return domain.BrokerOrder{}, fmt.Errorf("upstox: get order %s: %w", orderID, domain.ErrNotFound)
}

// OpenOrders returns every order the broker lists for the session.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.BrokerOrder, error) {
	orders, err := c.allOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("upstox: open orders: %w", err)
	}

	out := make([]domain.BrokerOrder, 0, len(orders))
	for _, w := range orders {
		out = append(out, w.toBrokerOrder())
	}
	return out, nil
}

// LatestOrderID returns the id of the most recently placed of our orders.
// Used when order placement acknowledges without an id.
func (c *Client) LatestOrderID(ctx context.Context) (string, error) {
	orders, err := c.allOrders(ctx)
	if err != nil {
		return "", fmt.Errorf("upstox: latest order: %w", err)
	}
	if len(orders) == 0 {
		return "", fmt.Errorf("upstox: latest order: %w", domain.ErrNotFound)
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].OrderTimestamp < orders[j].OrderTimestamp
	})
	return orders[len(orders)-1].OrderID, nil
}

// Positions returns the short-term positions book.
func (c *Client) Positions(ctx context.Context) ([]domain.BrokerPosition, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v2/portfolio/short-term-positions", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("upstox: positions: %w", err)
	}

	var resp struct {
		Data []wirePosition `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("upstox: decode positions: %w", err)
	}

	out := make([]domain.BrokerPosition, 0, len(resp.Data))
	for _, p := range resp.Data {
		out = append(out, domain.BrokerPosition{
			InstrumentKey: p.InstrumentToken,
			Quantity:      p.Quantity,
			AveragePrice:  p.AveragePrice,
		})
	}
	return out, nil
}

// Candles returns the merged intraday and previous-session candle series
// for the configured instrument, oldest first.
func (c *Client) Candles(ctx context.Context, from, to time.Time) ([]domain.Candle, error) {
	intradayPath := fmt.Sprintf("/v3/historical-candle/intraday/%s/minutes/5",
		url.PathEscape(c.instrumentKey))
	intraday, err := c.fetchCandles(ctx, intradayPath)
	if err != nil {
		return nil, fmt.Errorf("upstox: intraday candles: %w", err)
	}

	historicalPath := fmt.Sprintf("/v3/historical-candle/%s/minutes/5/%s/%s",
		url.PathEscape(c.instrumentKey),
		to.Format("2006-01-02"),
		from.Format("2006-01-02"))
	historical, err := c.fetchCandles(ctx, historicalPath)
	if err != nil {
		// Intraday data alone still serves the indicators once the
		// session is old enough.
		historical = nil
	}

	return domain.MergeCandles(historical, intraday), nil
}

// Ping verifies the access token by fetching the user profile.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/v2/user/profile", nil, nil); err != nil {
		return fmt.Errorf("upstox: ping: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func firstOrderID(resp placeOrderResponse) string {
	if len(resp.Data.OrderIDs) > 0 {
		return resp.Data.OrderIDs[0]
	}
	return resp.Data.OrderID
}

func (c *Client) allOrders(ctx context.Context) ([]wireOrder, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/v2/order/retrieve-all", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []wireOrder `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order book: %w", err)
	}
	return resp.Data, nil
}

func (c *Client) fetchCandles(ctx context.Context, path string) ([]domain.Candle, error) {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var resp candleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}

	// Rows arrive newest first as positional arrays.
	out := make([]domain.Candle, 0, len(resp.Data.Candles))
	for _, row := range resp.Data.Candles {
		candle, ok := parseCandleRow(row)
		if !ok {
			continue
		}
		out = append(out, candle)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func parseCandleRow(row []any) (domain.Candle, bool) {
	if len(row) < 6 {
		return domain.Candle{}, false
	}
	ts, ok := row[0].(string)
	if !ok {
		return domain.Candle{}, false
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return domain.Candle{}, false
	}

	nums := make([]float64, 5)
	for i := 0; i < 5; i++ {
		f, ok := row[i+1].(float64)
		if !ok {
			return domain.Candle{}, false
		}
		nums[i] = f
	}

	return domain.Candle{
		Timestamp: t,
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    int64(nums[4]),
	}, true
}

// doRequest builds, authenticates, sends, and reads an HTTP request against
// the Upstox API.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors so callers
// can branch on rate limiting and auth failure without string matching.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.message()

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}
