package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/arvindrk/silverbot/internal/domain"
)

// ReplayArchiver implements domain.ReplayArchiver, writing each closed
// trade's tick buffer as one JSON object under replays/{date}/{orderID}.json.
type ReplayArchiver struct {
	writer *Writer
}

// NewReplayArchiver creates a ReplayArchiver over the given client.
func NewReplayArchiver(c *Client) *ReplayArchiver {
	return &ReplayArchiver{writer: NewWriter(c)}
}

// ArchiveReplay uploads the buffer and returns the object key.
func (a *ReplayArchiver) ArchiveReplay(ctx context.Context, tradeDate string, buf domain.ReplayBuffer) (string, error) {
	data, err := json.Marshal(buf)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal replay %s: %w", buf.OrderID, err)
	}

	key := fmt.Sprintf("replays/%s/%s.json", tradeDate, buf.OrderID)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}
