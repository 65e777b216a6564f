package upstox

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/arvindrk/silverbot/internal/domain"
)

// FrameType identifies what a feed frame carries.
type FrameType uint8

const (
	// FrameLTPC is a last-traded-price tick.
	FrameLTPC FrameType = 1
	// FrameHeartbeat is a keepalive carrying no price payload.
	FrameHeartbeat FrameType = 2
)

// Feed frames are binary, little-endian:
//
//	offset 0  uint8   frame type (1 = ltpc, 2 = heartbeat)
//	offset 1  uint8   key length n
//	offset 2  n bytes instrument key (ASCII)
//	...       float64 last traded price
//	...       int64   exchange timestamp, unix milliseconds
//
// Heartbeats end after the key.
const frameHeaderLen = 2

// DecodeFrame parses one feed frame. Heartbeats return a zero Tick with
// FrameHeartbeat. Malformed frames return an error wrapping
// domain.ErrDecodeFrame; callers drop the frame and keep reading.
func DecodeFrame(buf []byte) (domain.Tick, FrameType, error) {
	if len(buf) < frameHeaderLen {
		return domain.Tick{}, 0, fmt.Errorf("%w: frame too short (%d bytes)", domain.ErrDecodeFrame, len(buf))
	}

	frameType := FrameType(buf[0])
	keyLen := int(buf[1])
	if len(buf) < frameHeaderLen+keyLen {
		return domain.Tick{}, 0, fmt.Errorf("%w: truncated key (want %d bytes, have %d)",
			domain.ErrDecodeFrame, keyLen, len(buf)-frameHeaderLen)
	}
	key := string(buf[frameHeaderLen : frameHeaderLen+keyLen])

	switch frameType {
	case FrameHeartbeat:
		return domain.Tick{}, FrameHeartbeat, nil

	case FrameLTPC:
		payload := buf[frameHeaderLen+keyLen:]
		if len(payload) < 16 {
			return domain.Tick{}, 0, fmt.Errorf("%w: truncated ltpc payload (%d bytes)",
				domain.ErrDecodeFrame, len(payload))
		}

		price := math.Float64frombits(binary.LittleEndian.Uint64(payload[:8]))
		tsMillis := int64(binary.LittleEndian.Uint64(payload[8:16]))

		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			return domain.Tick{}, 0, fmt.Errorf("%w: invalid price %v", domain.ErrDecodeFrame, price)
		}

		return domain.Tick{
			InstrumentKey: key,
			Price:         price,
			Timestamp:     time.UnixMilli(tsMillis),
		}, FrameLTPC, nil

	default:
		return domain.Tick{}, 0, fmt.Errorf("%w: unknown frame type %d", domain.ErrDecodeFrame, frameType)
	}
}

// EncodeLTPC builds an ltpc frame. Used by the feed simulator and tests.
func EncodeLTPC(tick domain.Tick) []byte {
	key := []byte(tick.InstrumentKey)
	buf := make([]byte, frameHeaderLen+len(key)+16)
	buf[0] = byte(FrameLTPC)
	buf[1] = byte(len(key))
	copy(buf[frameHeaderLen:], key)

	off := frameHeaderLen + len(key)
	binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(tick.Price))
	binary.LittleEndian.PutUint64(buf[off+8:], uint64(tick.Timestamp.UnixMilli()))
	return buf
}

// EncodeHeartbeat builds a keepalive frame.
func EncodeHeartbeat() []byte {
	return []byte{byte(FrameHeartbeat), 0}
}
