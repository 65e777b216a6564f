package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrFeedDisconnected = errors.New("feed disconnected")
	ErrDecodeFrame      = errors.New("undecodable feed frame")
	ErrBrokerRejected   = errors.New("order rejected by broker")
	ErrVerifyTimeout    = errors.New("order verification timed out")
	ErrOrderInFlight    = errors.New("another order is already in flight")
	ErrNoPosition       = errors.New("no open position")
)
