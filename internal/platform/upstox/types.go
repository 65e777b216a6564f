package upstox

import (
	"strings"
	"time"

	"github.com/arvindrk/silverbot/internal/domain"
)

// placeOrderRequest is the v3 order placement payload.
type placeOrderRequest struct {
	Quantity          int     `json:"quantity"`
	Product           string  `json:"product"`
	Validity          string  `json:"validity"`
	Price             float64 `json:"price"`
	Tag               string  `json:"tag"`
	InstrumentToken   string  `json:"instrument_token"`
	OrderType         string  `json:"order_type"`
	TransactionType   string  `json:"transaction_type"`
	DisclosedQuantity int     `json:"disclosed_quantity"`
	TriggerPrice      float64 `json:"trigger_price"`
	IsAMO             bool    `json:"is_amo"`
}

// placeOrderResponse carries the broker order ids. v3 returns a list; the
// first entry is the order just placed.
type placeOrderResponse struct {
	Status string `json:"status"`
	Data   struct {
		OrderIDs []string `json:"order_ids"`
		OrderID  string   `json:"order_id"`
	} `json:"data"`
}

// modifyOrderRequest is the v2 order modification payload.
type modifyOrderRequest struct {
	OrderID           string  `json:"order_id"`
	Quantity          int     `json:"quantity"`
	Validity          string  `json:"validity"`
	Price             float64 `json:"price"`
	OrderType         string  `json:"order_type"`
	DisclosedQuantity int     `json:"disclosed_quantity"`
	TriggerPrice      float64 `json:"trigger_price"`
}

// wireOrder is one order row from the order book endpoints.
type wireOrder struct {
	OrderID         string  `json:"order_id"`
	Status          string  `json:"status"`
	TransactionType string  `json:"transaction_type"`
	OrderType       string  `json:"order_type"`
	Quantity        int     `json:"quantity"`
	FilledQuantity  int     `json:"filled_quantity"`
	AveragePrice    float64 `json:"average_price"`
	Price           float64 `json:"price"`
	TriggerPrice    float64 `json:"trigger_price"`
	StatusMessage   string  `json:"status_message"`
	OrderTimestamp  string  `json:"order_timestamp"`
	Tag             string  `json:"tag"`
}

// wirePosition is one row of the short-term positions book.
type wirePosition struct {
	InstrumentToken string  `json:"instrument_token"`
	Quantity        int     `json:"quantity"`
	AveragePrice    float64 `json:"average_price"`
}

// errorResponse is the broker's error envelope.
type errorResponse struct {
	Status string `json:"status"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errors"`
}

func (e errorResponse) message() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].ErrorCode + ": " + e.Errors[0].Message
}

// mapStatus converts the broker's order status strings to the internal
// enum. Unknown strings map to OPEN so verification keeps polling rather
// than inventing a terminal outcome.
func mapStatus(s string) domain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "complete":
		return domain.OrderStatusFilled
	case "rejected":
		return domain.OrderStatusRejected
	case "cancelled", "canceled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusOpen
	}
}

// toBrokerOrder converts a wire order row to the domain view.
func (w wireOrder) toBrokerOrder() domain.BrokerOrder {
	side := domain.OrderSideBuy
	if strings.EqualFold(w.TransactionType, "SELL") {
		side = domain.OrderSideSell
	}

	orderType := strings.ToUpper(w.OrderType)
	isStop := orderType == "SL" || orderType == "SL-M"

	placedAt, _ := time.Parse("2006-01-02 15:04:05", w.OrderTimestamp)

	return domain.BrokerOrder{
		ID:             w.OrderID,
		Side:           side,
		Status:         mapStatus(w.Status),
		Quantity:       w.Quantity,
		FilledQty:      w.FilledQuantity,
		AveragePrice:   w.AveragePrice,
		LimitPrice:     w.Price,
		TriggerPrice:   w.TriggerPrice,
		IsStop:         isStop,
		TriggerPending: strings.EqualFold(strings.TrimSpace(w.Status), "trigger pending"),
		PlacedAt:       placedAt,
		StatusMessage:  w.StatusMessage,
	}
}

// candleResponse is the historical/intraday candle envelope. Each candle is
// a positional array: timestamp, open, high, low, close, volume, oi.
type candleResponse struct {
	Status string `json:"status"`
	Data   struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
}
