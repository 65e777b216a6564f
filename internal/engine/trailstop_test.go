package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arvindrk/silverbot/internal/domain"
)

func TestTrailStop_LongRatchet(t *testing.T) {
	cfg := TrailConfig{Multiplier: 2.5, Margin: 50}

	// 72500 - 2.5*800 = 70500, beats 70400 by 100 > 50.
	stop, ok := TrailStop(cfg, domain.SideLong, 72500, 800, 70400)
	assert.True(t, ok)
	assert.Equal(t, 70500.0, stop)

	// Improvement of 40 stays inside the hysteresis band.
	stop, ok = TrailStop(cfg, domain.SideLong, 72540, 800, 70500)
	assert.False(t, ok)
	assert.Equal(t, 70500.0, stop)

	// Exactly at the margin is not enough: the improvement must be
	// strictly greater.
	_, ok = TrailStop(cfg, domain.SideLong, 72550, 800, 70500)
	assert.False(t, ok)

	_, ok = TrailStop(cfg, domain.SideLong, 72551, 800, 70500)
	assert.True(t, ok)
}

func TestTrailStop_LongNeverLowers(t *testing.T) {
	cfg := TrailConfig{Multiplier: 2.5, Margin: 50}

	// Price fell back; the proposed level is below the stop.
	stop, ok := TrailStop(cfg, domain.SideLong, 71000, 800, 70500)
	assert.False(t, ok)
	assert.Equal(t, 70500.0, stop)
}

func TestTrailStop_ShortRatchet(t *testing.T) {
	cfg := TrailConfig{Multiplier: 2.5, Margin: 50}

	// 71000 + 2000 = 73000, below the current 73200 by 200 > 50.
	stop, ok := TrailStop(cfg, domain.SideShort, 71000, 800, 73200)
	assert.True(t, ok)
	assert.Equal(t, 73000.0, stop)

	// Price rose; a short stop never rises.
	stop, ok = TrailStop(cfg, domain.SideShort, 71500, 800, 73000)
	assert.False(t, ok)
	assert.Equal(t, 73000.0, stop)
}

func TestTrailStop_NoVolatility(t *testing.T) {
	cfg := TrailConfig{Multiplier: 2.5, Margin: 50}

	_, ok := TrailStop(cfg, domain.SideLong, 72500, 0, 70400)
	assert.False(t, ok)

	_, ok = TrailStop(cfg, domain.SideLong, 72500, -10, 70400)
	assert.False(t, ok)
}

func TestTrailStop_FlatSide(t *testing.T) {
	cfg := TrailConfig{Multiplier: 2.5, Margin: 50}

	stop, ok := TrailStop(cfg, domain.SideFlat, 72500, 800, 0)
	assert.False(t, ok)
	assert.Equal(t, 0.0, stop)
}

func TestFallbackStop(t *testing.T) {
	tests := []struct {
		name  string
		side  domain.OrderSide
		entry float64
		atr   float64
		want  float64
	}{
		{"long with live atr", domain.OrderSideBuy, 72000, 800, 70400},
		{"short with live atr", domain.OrderSideSell, 72000, 800, 73600},
		{"missing atr uses default", domain.OrderSideBuy, 72000, 0, 70400},
		{"quiet tape is floored", domain.OrderSideBuy, 72000, 300, 71000},
		{"points are whole numbers", domain.OrderSideBuy, 72000, 850.4, 70299},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackStop(tt.side, tt.entry, tt.atr, 2.0, 500, 800)
			assert.Equal(t, tt.want, got)
		})
	}
}
