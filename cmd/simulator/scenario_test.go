package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrain(t *testing.T) {
	levels := drain(80, 10, 5)
	require.Len(t, levels, 15)
	assert.Equal(t, 80.0, levels[0])
	assert.Equal(t, 10.0, levels[len(levels)-1])

	assert.Equal(t, []float64{10, 12}, drain(10, 12, 5))
	assert.Equal(t, []float64{30}, drain(30, 30, 5))
	assert.Len(t, drain(3, 0, 0), 4, "non-positive step falls back to 1")
}

func TestFireRamp(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	readings := fireRamp(rng, "ESP32_001", "FAC_001", "A", 10, 450, start, time.Second)
	require.Len(t, readings, 10)

	first, last := readings[0], readings[9]
	assert.GreaterOrEqual(t, first.SmokeIndex, 20.0)
	assert.Less(t, first.SmokeIndex, 25.0)
	assert.GreaterOrEqual(t, last.SmokeIndex, 450.0)
	assert.Equal(t, start.Add(9*time.Second), last.Timestamp)
	for _, r := range readings {
		assert.Equal(t, "ESP32_001", r.DeviceID)
		assert.LessOrEqual(t, r.TemperatureC, 125.0)
		assert.GreaterOrEqual(t, r.HumidityPct, 0.0)
	}
}
