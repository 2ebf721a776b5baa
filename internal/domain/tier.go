package domain

import (
	"fmt"
	"strings"
)

// Tier is the ordered severity scale. Comparisons use the integer order.
type Tier int

const (
	TierGood Tier = iota
	TierModerate
	TierWarning
	TierCritical
	TierDrone
	TierEmergency
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{TierGood, TierModerate, TierWarning, TierCritical, TierDrone, TierEmergency}

func (t Tier) String() string {
	switch t {
	case TierGood:
		return "GOOD"
	case TierModerate:
		return "MODERATE"
	case TierWarning:
		return "WARNING"
	case TierCritical:
		return "CRITICAL"
	case TierDrone:
		return "DRONE"
	case TierEmergency:
		return "EMERGENCY"
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return TierGood, fmt.Errorf("unknown tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func MaxTier(a, b Tier) Tier {
	if b > a {
		return b
	}
	return a
}

// Dimension is one monitored quantity with its own breakpoint list.
type Dimension string

const (
	DimensionAirQuality  Dimension = "AIR_QUALITY"
	DimensionSmoke       Dimension = "SMOKE"
	DimensionTemperature Dimension = "TEMPERATURE"
	DimensionWater       Dimension = "WATER"
)

// Dimensions lists the dimensions every threshold table must define.
var Dimensions = []Dimension{DimensionAirQuality, DimensionSmoke, DimensionTemperature, DimensionWater}

// Falling dimensions escalate as the value drops.
func (d Dimension) Falling() bool { return d == DimensionWater }

// Category maps a dimension to the alert category it raises.
func (d Dimension) Category() Category {
	switch d {
	case DimensionWater:
		return CategoryWaterResource
	case DimensionAirQuality, DimensionSmoke, DimensionTemperature:
		return CategoryAirQuality
	}
	return CategoryDevice
}
