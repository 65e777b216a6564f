package upstox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvindrk/silverbot/internal/domain"
)

const testInstrument = "MCX_FO|12345"

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, testInstrument, domain.StaticTokenSource("test-token"))
}

func TestPlaceLimitOrder(t *testing.T) {
	var got placeOrderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/order/place", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","data":{"order_ids":["240101010101"]}}`))
	})

	id, err := client.PlaceLimitOrder(context.Background(), domain.OrderSideBuy, 1, 72216)
	require.NoError(t, err)
	assert.Equal(t, "240101010101", id)

	assert.Equal(t, "LIMIT", got.OrderType)
	assert.Equal(t, "BUY", got.TransactionType)
	assert.Equal(t, "DAY", got.Validity)
	assert.Equal(t, "D", got.Product)
	assert.Equal(t, testInstrument, got.InstrumentToken)
	assert.Equal(t, 72216.0, got.Price)
	assert.Equal(t, "API_BOT", got.Tag)
}

func TestPlaceStopOrder(t *testing.T) {
	var got placeOrderRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"success","data":{"order_id":"240101010102"}}`))
	})

	id, err := client.PlaceStopOrder(context.Background(), domain.OrderSideSell, 1, 70400)
	require.NoError(t, err)
	assert.Equal(t, "240101010102", id)

	assert.Equal(t, "SL-M", got.OrderType)
	assert.Equal(t, 70400.0, got.TriggerPrice)
	assert.Equal(t, "API_BOT_SL", got.Tag)
}

func TestPlaceStopOrder_NoIDIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{}}`))
	})

	_, err := client.PlaceStopOrder(context.Background(), domain.OrderSideSell, 1, 70400)
	assert.Error(t, err)
}

func orderBookHandler(orders string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":` + orders + `}`))
	}
}

func TestOrder_StatusMapping(t *testing.T) {
	client := newTestClient(t, orderBookHandler(`[
		{"order_id":"1","status":"complete","transaction_type":"BUY","quantity":1,"filled_quantity":1,"average_price":72010.0,"order_type":"LIMIT"},
		{"order_id":"2","status":"rejected","transaction_type":"SELL","order_type":"LIMIT","status_message":"insufficient funds"},
		{"order_id":"3","status":"trigger pending","transaction_type":"SELL","order_type":"SL-M","trigger_price":70400.0},
		{"order_id":"4","status":"open","transaction_type":"BUY","order_type":"LIMIT"}
	]`))

	filled, err := client.Order(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, filled.Status)
	assert.Equal(t, 72010.0, filled.AveragePrice)
	assert.Equal(t, 1, filled.FilledQty)

	rejected, err := client.Order(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRejected, rejected.Status)
	assert.Equal(t, "insufficient funds", rejected.StatusMessage)

	stop, err := client.Order(context.Background(), "3")
	require.NoError(t, err)
	assert.True(t, stop.IsStop)
	assert.True(t, stop.TriggerPending)
	assert.Equal(t, domain.OrderStatusOpen, stop.Status)
	assert.Equal(t, 70400.0, stop.TriggerPrice)

	open, err := client.Order(context.Background(), "4")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, open.Status)
}

func TestOrder_MissingFromBook(t *testing.T) {
	client := newTestClient(t, orderBookHandler(`[]`))

	_, err := client.Order(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatestOrderID(t *testing.T) {
	client := newTestClient(t, orderBookHandler(`[
		{"order_id":"old","order_timestamp":"2026-01-06 10:00:01"},
		{"order_id":"newest","order_timestamp":"2026-01-06 12:30:00"},
		{"order_id":"mid","order_timestamp":"2026-01-06 11:15:00"}
	]`))

	id, err := client.LatestOrderID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "newest", id)
}

func TestCancelOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "7", r.URL.Query().Get("order_id"))
		w.Write([]byte(`{"status":"success"}`))
	})

	assert.NoError(t, client.CancelOrder(context.Background(), "7"))
}

func TestDoRequest_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, domain.ErrUnauthorized},
		{"not found", http.StatusNotFound, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"status":"error","errors":[{"errorCode":"UDAPI100","message":"nope"}]}`))
			})

			err := client.Ping(context.Background())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDoRequest_NoTokenNoCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, testInstrument, domain.StaticTokenSource(""))
	err := client.Ping(context.Background())

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, called, "a request without a token must never reach the broker")
}

func TestCandles_MergesHistoricalAndIntraday(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v3/historical-candle/intraday/"+testInstrument+"/minutes/5":
			w.Write([]byte(`{"status":"success","data":{"candles":[
				["2026-01-06T10:05:00+05:30",72050,72150,72000,72100,220,0],
				["2026-01-06T10:00:00+05:30",72000,72100,71950,72050,180,0]
			]}}`))
		default:
			// Historical endpoint: includes a bar the intraday series
			// also carries; the intraday copy must win.
			w.Write([]byte(`{"status":"success","data":{"candles":[
				["2026-01-06T10:00:00+05:30",1,1,1,1,1,0],
				["2026-01-05T15:00:00+05:30",71800,71900,71750,71850,300,0]
			]}}`))
		}
	})

	candles, err := client.Candles(context.Background(), mustTime(t, "2026-01-04T00:00:00+05:30"), mustTime(t, "2026-01-06T00:00:00+05:30"))
	require.NoError(t, err)
	require.Len(t, candles, 3)

	// Oldest first.
	assert.Equal(t, 71850.0, candles[0].Close)
	// Duplicate timestamp resolved in favor of the intraday bar.
	assert.Equal(t, 72050.0, candles[1].Close)
	assert.Equal(t, 72100.0, candles[2].Close)
	assert.Equal(t, int64(220), candles[2].Volume)
}

func TestCandles_HistoricalFailureTolerated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v3/historical-candle/intraday/"+testInstrument+"/minutes/5" {
			w.Write([]byte(`{"status":"success","data":{"candles":[
				["2026-01-06T10:00:00+05:30",72000,72100,71950,72050,180,0]
			]}}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","errors":[{"errorCode":"UDAPI1021","message":"no data"}]}`))
	})

	candles, err := client.Candles(context.Background(), mustTime(t, "2026-01-04T00:00:00+05:30"), mustTime(t, "2026-01-06T00:00:00+05:30"))
	require.NoError(t, err)
	assert.Len(t, candles, 1)
}

func TestCandles_SkipsMalformedRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","data":{"candles":[
			["not-a-timestamp",1,2,3,4,5,0],
			["2026-01-06T10:00:00+05:30",72000,72100,71950,72050,180,0],
			["2026-01-06T10:05:00+05:30",72050]
		]}}`))
	})

	candles, err := client.Candles(context.Background(), mustTime(t, "2026-01-04T00:00:00+05:30"), mustTime(t, "2026-01-06T00:00:00+05:30"))
	require.NoError(t, err)
	assert.Len(t, candles, 1)
}
