package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock used outside tests.
var SystemClock Clock = systemClock{}

type bounds struct{ min, max float64 }

var metricBounds = map[string]bounds{
	"smoke_index":     {0, 10000},
	"temperature_c":   {-40, 125},
	"humidity_pct":    {0, 100},
	"aqi":             {0, 500},
	"water_level_pct": {0, 100},
}

// aliases maps the keys devices actually send onto canonical field names.
var aliases = map[string]string{
	"deviceid":    "device_id",
	"device":      "device_id",
	"sensor_id":   "device_id",
	"facilityid":  "facility_id",
	"facility":    "facility_id",
	"smoke":       "smoke_index",
	"smokeindex":  "smoke_index",
	"temperature": "temperature_c",
	"temp":        "temperature_c",
	"humidity":    "humidity_pct",
	"water_level": "water_level_pct",
	"waterlevel":  "water_level_pct",
	"ts":          "timestamp",
}

type Normalizer struct {
	clock   Clock
	maxSkew time.Duration
}

func NewNormalizer(clock Clock, maxSkew time.Duration) *Normalizer {
	if clock == nil {
		clock = SystemClock
	}
	return &Normalizer{clock: clock, maxSkew: maxSkew}
}

// DecodePayload parses a JSON object keeping numbers exact.
func DecodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, &domain.ValidationError{Reason: "payload is not a JSON object: " + err.Error()}
	}
	return payload, nil
}

// Normalize validates a raw payload and returns the canonical reading.
func (n *Normalizer) Normalize(payload map[string]any) (domain.SensorReading, error) {
	fields := canonicalKeys(payload)
	var r domain.SensorReading

	var err error
	if r.DeviceID, err = requiredString(fields, "device_id"); err != nil {
		return r, err
	}
	if r.FacilityID, err = requiredString(fields, "facility_id"); err != nil {
		return r, err
	}
	if v, ok := fields["zone"]; ok {
		r.Zone = strings.TrimSpace(fmt.Sprint(v))
	}

	var present int
	metric := func(name string, dst *float64, has *bool) error {
		raw, ok := fields[name]
		if !ok || raw == nil {
			return nil
		}
		v, err := number(name, raw)
		if err != nil {
			return err
		}
		b := metricBounds[name]
		if v < b.min || v > b.max {
			return &domain.ValidationError{Field: name, Reason: fmt.Sprintf("%.2f outside [%g, %g]", v, b.min, b.max)}
		}
		*dst = v
		if has != nil {
			*has = true
		}
		present++
		return nil
	}
	if err := metric("smoke_index", &r.SmokeIndex, &r.HasSmoke); err != nil {
		return r, err
	}
	if err := metric("temperature_c", &r.TemperatureC, &r.HasTemperature); err != nil {
		return r, err
	}
	if err := metric("humidity_pct", &r.HumidityPct, &r.HasHumidity); err != nil {
		return r, err
	}
	if err := metric("aqi", &r.AQI, &r.HasAQI); err != nil {
		return r, err
	}
	var water float64
	var hasWater bool
	if err := metric("water_level_pct", &water, &hasWater); err != nil {
		return r, err
	}
	if hasWater {
		r.WaterLevelPct = &water
	}
	if present == 0 {
		return r, &domain.ValidationError{Field: "metrics", Reason: "no sensor metric present"}
	}
	if !r.HasAQI && r.HasSmoke {
		r.AQI = AQIFromSmoke(r.SmokeIndex)
		r.HasAQI = true
	}

	r.Timestamp = n.timestamp(fields["timestamp"])
	return r, nil
}

// timestamp keeps the device clock only when it is plausible; the server clock wins otherwise.
func (n *Normalizer) timestamp(raw any) time.Time {
	now := n.clock.Now()
	if raw == nil {
		return now
	}
	var ts time.Time
	switch v := raw.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return now
		}
		ts = t
	default:
		f, err := number("timestamp", v)
		if err != nil {
			return now
		}
		ts = time.Unix(int64(f), 0)
	}
	if ts.After(now) || now.Sub(ts) > n.maxSkew {
		return now
	}
	return ts.UTC()
}

func canonicalKeys(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		key := strings.ToLower(strings.TrimSpace(k))
		if canon, ok := aliases[key]; ok {
			key = canon
		}
		if _, dup := out[key]; dup && key != strings.ToLower(k) {
			// an exact canonical key beats an alias
			continue
		}
		out[key] = v
	}
	return out
}

func requiredString(fields map[string]any, name string) (string, error) {
	v, ok := fields[name]
	if !ok || v == nil {
		return "", &domain.ValidationError{Field: name, Reason: "required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &domain.ValidationError{Field: name, Reason: "must be a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &domain.ValidationError{Field: name, Reason: "required"}
	}
	return s, nil
}

func number(name string, raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case json.Number:
		x, err := v.Float64()
		if err != nil {
			return 0, &domain.ValidationError{Field: name, Reason: "not a number"}
		}
		f = x
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &domain.ValidationError{Field: name, Reason: "not a number"}
		}
		f = x
	default:
		return 0, &domain.ValidationError{Field: name, Reason: fmt.Sprintf("unsupported type %T", raw)}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &domain.ValidationError{Field: name, Reason: "not finite"}
	}
	return f, nil
}

// pm25Breakpoints is the EPA PM2.5 concentration-to-AQI table.
var pm25Breakpoints = []struct{ cLow, cHigh, iLow, iHigh float64 }{
	{0, 12.0, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

// smokeToPM25 converts the field devices' smoke index into a PM2.5 equivalent (µg/m³).
const smokeToPM25 = 0.1

// AQIFromSmoke derives an AQI when the device did not report one.
func AQIFromSmoke(smoke float64) float64 {
	c := math.Floor(smoke*smokeToPM25*10) / 10
	for _, bp := range pm25Breakpoints {
		if c <= bp.cHigh {
			if c < bp.cLow {
				c = bp.cLow
			}
			aqi := (bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow)*(c-bp.cLow) + bp.iLow
			return math.Round(aqi)
		}
	}
	return 500
}
