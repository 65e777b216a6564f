package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arvindrk/silverbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Records are
// upserted by id: the SENT row written at submission is overwritten in
// place as the order reaches its terminal status and again when the
// post-exit replay buffer closes.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// SaveTrade inserts or replaces a trade record.
func (s *TradeStore) SaveTrade(ctx context.Context, rec domain.TradeRecord) error {
	var replay []byte
	if rec.Replay != nil {
		b, err := json.Marshal(rec.Replay)
		if err != nil {
			return fmt.Errorf("postgres: marshal replay for %s: %w", rec.ID, err)
		}
		replay = b
	}

	const query = `
		INSERT INTO trades (
			id, broker_order_id, trade_date, side, role, quantity,
			ordered_price, executed_price, status, pnl, tag,
			pattern, confidence, executed_at, replay, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			broker_order_id = EXCLUDED.broker_order_id,
			trade_date      = EXCLUDED.trade_date,
			side            = EXCLUDED.side,
			role            = EXCLUDED.role,
			quantity        = EXCLUDED.quantity,
			ordered_price   = EXCLUDED.ordered_price,
			executed_price  = EXCLUDED.executed_price,
			status          = EXCLUDED.status,
			pnl             = EXCLUDED.pnl,
			tag             = EXCLUDED.tag,
			pattern         = EXCLUDED.pattern,
			confidence      = EXCLUDED.confidence,
			executed_at     = EXCLUDED.executed_at,
			replay          = COALESCE(EXCLUDED.replay, trades.replay),
			updated_at      = NOW()`

	var executedAt *time.Time
	if !rec.ExecutedAt.IsZero() {
		executedAt = &rec.ExecutedAt
	}

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.BrokerOrderID, rec.Date,
		string(rec.Side), string(rec.Role), rec.Quantity,
		rec.OrderedPrice, rec.ExecutedPrice, string(rec.Status),
		rec.PnL, rec.Tag, rec.Pattern, rec.Confidence,
		executedAt, replay,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", rec.ID, err)
	}
	return nil
}

// GetTrade returns one trade record by id.
func (s *TradeStore) GetTrade(ctx context.Context, id string) (domain.TradeRecord, error) {
	const query = tradeSelectCols + ` WHERE id = $1`

	rec, err := scanTrade(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return rec, nil
}

// ListTrades returns the most recent trade records, newest first.
func (s *TradeStore) ListTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = tradeSelectCols + ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	return out, nil
}

const tradeSelectCols = `
	SELECT id, broker_order_id, trade_date, side, role, quantity,
		ordered_price, executed_price, status, pnl, tag,
		pattern, confidence, executed_at, replay
	FROM trades`

func scanTrade(scanner interface{ Scan(dest ...any) error }) (domain.TradeRecord, error) {
	var rec domain.TradeRecord
	var side, role, status string
	var executedAt *time.Time
	var replay []byte

	err := scanner.Scan(
		&rec.ID, &rec.BrokerOrderID, &rec.Date,
		&side, &role, &rec.Quantity,
		&rec.OrderedPrice, &rec.ExecutedPrice, &status,
		&rec.PnL, &rec.Tag, &rec.Pattern, &rec.Confidence,
		&executedAt, &replay,
	)
	if err != nil {
		return domain.TradeRecord{}, err
	}

	rec.Side = domain.OrderSide(side)
	rec.Role = domain.OrderRole(role)
	rec.Status = domain.OrderStatus(status)
	if executedAt != nil {
		rec.ExecutedAt = *executedAt
	}
	if len(replay) > 0 {
		var buf domain.ReplayBuffer
		if err := json.Unmarshal(replay, &buf); err != nil {
			return domain.TradeRecord{}, fmt.Errorf("unmarshal replay: %w", err)
		}
		rec.Replay = &buf
	}

	return rec, nil
}
