package main

import (
	"math/rand"
	"time"
)

// Reading is the device payload the engine's normalizer accepts.
type Reading struct {
	DeviceID     string    `json:"device_id"`
	FacilityID   string    `json:"facility_id"`
	Zone         string    `json:"zone,omitempty"`
	SmokeIndex   float64   `json:"smoke_index"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	Timestamp    time.Time `json:"timestamp"`
}

// fireRamp produces n readings whose smoke and temperature climb linearly from
// ambient to peak, with a little jitter.
func fireRamp(rng *rand.Rand, device, facility, zone string, n int, peakSmoke float64, start time.Time, step time.Duration) []Reading {
	out := make([]Reading, 0, n)
	for i := 0; i < n; i++ {
		frac := 1.0
		if n > 1 {
			frac = float64(i) / float64(n-1)
		}
		smoke := 20 + (peakSmoke-20)*frac + rng.Float64()*5
		out = append(out, Reading{
			DeviceID:     device,
			FacilityID:   facility,
			Zone:         zone,
			SmokeIndex:   clamp(smoke, 0, 10000),
			TemperatureC: clamp(22+frac*40+rng.Float64(), -40, 125),
			HumidityPct:  clamp(45-frac*20+rng.Float64()*2, 0, 100),
			Timestamp:    start.Add(time.Duration(i) * step).UTC(),
		})
	}
	return out
}

// drain yields tank levels from `from` down to `to` in steps of `step`, ending exactly at `to`.
func drain(from, to, step float64) []float64 {
	if step <= 0 {
		step = 1
	}
	var out []float64
	if from < to {
		for v := from; v < to; v += step {
			out = append(out, v)
		}
	} else {
		for v := from; v > to; v -= step {
			out = append(out, v)
		}
	}
	return append(out, to)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
