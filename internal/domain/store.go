package domain

import (
	"context"
	"time"
)

// SnapshotStore persists and reloads the bot state document. Implementations
// must tolerate missing documents (return ErrNotFound) and partial ones
// (zero-value fields).
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (Snapshot, error)
}

// TradeStore is the durable trade log, keyed by order id.
type TradeStore interface {
	SaveTrade(ctx context.Context, rec TradeRecord) error
	GetTrade(ctx context.Context, id string) (TradeRecord, error)
	ListTrades(ctx context.Context, limit int) ([]TradeRecord, error)
}

// TokenSource yields the broker access token. The token is produced by an
// external authority (the master bot's login flow) into a shared document;
// this process only observes it.
type TokenSource interface {
	// Token returns the current access token, or ErrUnauthorized when no
	// token generated today is available.
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource is a TokenSource backed by a fixed token, for local
// runs with a manually issued token.
type StaticTokenSource string

// Token returns the fixed token.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrUnauthorized
	}
	return string(s), nil
}

// ReplayArchiver stores a closed trade's replay buffer in blob storage for
// offline analysis.
type ReplayArchiver interface {
	ArchiveReplay(ctx context.Context, tradeDate string, buf ReplayBuffer) (string, error)
}

// CandleSource supplies the merged, deduplicated candle series for the
// traded instrument, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, from, to time.Time) ([]Candle, error)
}
