package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

func validationField(t *testing.T, err error) string {
	t.Helper()
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Field
}

func TestNormalize_Valid(t *testing.T) {
	clock := newFakeClock()
	n := NewNormalizer(clock, 30*time.Second)

	payload, err := DecodePayload([]byte(`{"deviceId":"ESP32_001","facility_id":"FAC_001","zone":"A","smoke":450,"temperature":"31.5","humidity_pct":40}`))
	require.NoError(t, err)

	r, err := n.Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, "ESP32_001", r.DeviceID)
	assert.Equal(t, "FAC_001", r.FacilityID)
	assert.Equal(t, "A", r.Zone)
	assert.Equal(t, 450.0, r.SmokeIndex)
	assert.Equal(t, 31.5, r.TemperatureC)
	assert.True(t, r.HasSmoke)
	assert.True(t, r.HasTemperature)
	assert.True(t, r.HasAQI)
	assert.Equal(t, 124.0, r.AQI)
	assert.Nil(t, r.WaterLevelPct)
	assert.Equal(t, clock.Now(), r.Timestamp)
}

func TestNormalize_Rejects(t *testing.T) {
	n := NewNormalizer(newFakeClock(), 30*time.Second)

	tests := []struct {
		name    string
		payload map[string]any
		field   string
	}{
		{"missing device", map[string]any{"facility_id": "F", "smoke_index": 1.0}, "device_id"},
		{"blank device", map[string]any{"device_id": "  ", "facility_id": "F", "smoke_index": 1.0}, "device_id"},
		{"missing facility", map[string]any{"device_id": "D", "smoke_index": 1.0}, "facility_id"},
		{"no metrics", map[string]any{"device_id": "D", "facility_id": "F"}, "metrics"},
		{"negative smoke", map[string]any{"device_id": "D", "facility_id": "F", "smoke_index": -1.0}, "smoke_index"},
		{"water above 100", map[string]any{"device_id": "D", "facility_id": "F", "water_level_pct": 101.0}, "water_level_pct"},
		{"non numeric", map[string]any{"device_id": "D", "facility_id": "F", "aqi": "high"}, "aqi"},
		{"wrong type", map[string]any{"device_id": "D", "facility_id": "F", "aqi": true}, "aqi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(tt.payload)
			assert.Equal(t, tt.field, validationField(t, err))
		})
	}
}

func TestNormalize_Timestamp(t *testing.T) {
	clock := newFakeClock()
	n := NewNormalizer(clock, 30*time.Second)
	now := clock.Now()
	base := func(ts any) map[string]any {
		return map[string]any{"device_id": "D", "facility_id": "F", "smoke_index": 1.0, "timestamp": ts}
	}

	r, err := n.Normalize(base(now.Add(-10 * time.Second).Format(time.RFC3339)))
	require.NoError(t, err)
	assert.Equal(t, now.Add(-10*time.Second), r.Timestamp)

	r, err = n.Normalize(base(now.Add(time.Hour).Format(time.RFC3339)))
	require.NoError(t, err)
	assert.Equal(t, now, r.Timestamp, "future device time falls back to server time")

	r, err = n.Normalize(base(now.Add(-time.Hour).Format(time.RFC3339)))
	require.NoError(t, err)
	assert.Equal(t, now, r.Timestamp, "stale device time falls back to server time")

	r, err = n.Normalize(base(float64(now.Add(-5 * time.Second).Unix())))
	require.NoError(t, err)
	assert.Equal(t, now.Add(-5*time.Second), r.Timestamp)

	r, err = n.Normalize(base("yesterday"))
	require.NoError(t, err)
	assert.Equal(t, now, r.Timestamp)
}

func TestNormalize_ReportedAQIWins(t *testing.T) {
	n := NewNormalizer(newFakeClock(), time.Minute)
	r, err := n.Normalize(map[string]any{"device_id": "D", "facility_id": "F", "smoke_index": 450.0, "aqi": 20.0})
	require.NoError(t, err)
	assert.Equal(t, 20.0, r.AQI)
}

func TestDecodePayload_Invalid(t *testing.T) {
	_, err := DecodePayload([]byte(`[1,2,3]`))
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = DecodePayload([]byte(`{`))
	assert.True(t, errors.As(err, &ve))
}

func TestAQIFromSmoke(t *testing.T) {
	assert.Equal(t, 0.0, AQIFromSmoke(0))
	assert.Equal(t, 50.0, AQIFromSmoke(120))
	assert.Equal(t, 124.0, AQIFromSmoke(450))
	assert.Equal(t, 500.0, AQIFromSmoke(6000))
}
