package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arvindrk/silverbot/internal/domain"
)

// tokenRefreshInterval bounds how often the shared-auth document is
// re-read. Order placement happens every few seconds at most, so a short
// cache keeps Redis off the hot path without missing a rotation.
const tokenRefreshInterval = 30 * time.Second

// TokenWatcher implements domain.TokenSource by observing the shared-auth
// hash that an external login authority maintains. This process never
// writes the document; it only reads, and it rejects tokens that were not
// generated on the current session date.
type TokenWatcher struct {
	rdb *redis.Client
	key string
	loc *time.Location

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

// NewTokenWatcher creates a watcher over the shared-auth document. loc is
// the exchange timezone used to decide what "today" means.
func NewTokenWatcher(c *Client, key string, loc *time.Location) *TokenWatcher {
	if key == "" {
		key = "silverbot:auth"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TokenWatcher{rdb: c.Underlying(), key: key, loc: loc}
}

// Token returns the current access token. A token generated on a previous
// date is stale (brokers invalidate tokens overnight) and maps to
// domain.ErrUnauthorized so callers drop to offline rather than trade on a
// dead session.
func (w *TokenWatcher) Token(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.token != "" && time.Since(w.fetchedAt) < tokenRefreshInterval {
		return w.token, nil
	}

	vals, err := w.rdb.HGetAll(ctx, w.key).Result()
	if err != nil {
		return "", fmt.Errorf("redis: read auth document: %w", err)
	}

	token := vals["access_token"]
	generatedOn := vals["generated_on"]
	if token == "" {
		return "", fmt.Errorf("redis: auth document empty: %w", domain.ErrUnauthorized)
	}

	today := time.Now().In(w.loc).Format("2006-01-02")
	if generatedOn != today {
		return "", fmt.Errorf("redis: token generated on %q, need %s: %w",
			generatedOn, today, domain.ErrUnauthorized)
	}

	w.token = token
	w.fetchedAt = time.Now()
	return token, nil
}

// Invalidate drops the cached token so the next call re-reads the
// document. Called after a 401 so a rotation is picked up immediately.
func (w *TokenWatcher) Invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.token = ""
	w.fetchedAt = time.Time{}
}
