package service

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

// Breakpoint triggers Tier when a value crosses Bound in the dimension's direction.
type Breakpoint struct {
	Tier  domain.Tier
	Bound float64
}

// ThresholdTable is immutable after NewThresholdTable returns.
type ThresholdTable struct {
	dims map[domain.Dimension][]Breakpoint
}

// NewThresholdTable validates and orders the breakpoints. Every dimension must be
// present; tiers must be above GOOD and unique; bounds must be strictly monotonic
// in the dimension's direction (rising for air, falling for water). WATER must
// define WARNING, CRITICAL and EMERGENCY, one per tank status below NORMAL.
func NewThresholdTable(dims map[domain.Dimension][]Breakpoint) (*ThresholdTable, error) {
	t := &ThresholdTable{dims: make(map[domain.Dimension][]Breakpoint, len(dims))}
	for _, d := range domain.Dimensions {
		bps, ok := dims[d]
		if !ok || len(bps) == 0 {
			return nil, fmt.Errorf("thresholds: dimension %s has no breakpoints", d)
		}
		sorted := append([]Breakpoint(nil), bps...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Tier < sorted[j].Tier })
		for i, bp := range sorted {
			if bp.Tier <= domain.TierGood || bp.Tier > domain.TierEmergency {
				return nil, fmt.Errorf("thresholds: %s has invalid tier %s", d, bp.Tier)
			}
			if math.IsNaN(bp.Bound) || math.IsInf(bp.Bound, 0) {
				return nil, fmt.Errorf("thresholds: %s %s bound is not finite", d, bp.Tier)
			}
			if i == 0 {
				continue
			}
			prev := sorted[i-1]
			if prev.Tier == bp.Tier {
				return nil, fmt.Errorf("thresholds: %s defines %s twice", d, bp.Tier)
			}
			if d.Falling() && bp.Bound >= prev.Bound {
				return nil, fmt.Errorf("thresholds: %s %s bound %.2f must be below %s bound %.2f", d, bp.Tier, bp.Bound, prev.Tier, prev.Bound)
			}
			if !d.Falling() && bp.Bound <= prev.Bound {
				return nil, fmt.Errorf("thresholds: %s %s bound %.2f must be above %s bound %.2f", d, bp.Tier, bp.Bound, prev.Tier, prev.Bound)
			}
		}
		t.dims[d] = sorted
	}
	// Tank recovery climbs through the bound of every depleted status.
	for _, tier := range []domain.Tier{domain.TierWarning, domain.TierCritical, domain.TierEmergency} {
		if _, ok := t.Bound(domain.DimensionWater, tier); !ok {
			return nil, fmt.Errorf("thresholds: %s requires a %s bound", domain.DimensionWater, tier)
		}
	}
	return t, nil
}

// ThresholdTableFromConfig converts the config map form ({"smoke": {"warning": 250}})
// into a validated table.
func ThresholdTableFromConfig(raw map[string]map[string]float64) (*ThresholdTable, error) {
	dims := make(map[domain.Dimension][]Breakpoint, len(raw))
	for name, tiers := range raw {
		d := domain.Dimension(strings.ToUpper(name))
		known := false
		for _, k := range domain.Dimensions {
			if k == d {
				known = true
			}
		}
		if !known {
			return nil, fmt.Errorf("thresholds: unknown dimension %q", name)
		}
		for tierName, bound := range tiers {
			tier, err := domain.ParseTier(tierName)
			if err != nil {
				return nil, fmt.Errorf("thresholds: %s: %w", name, err)
			}
			dims[d] = append(dims[d], Breakpoint{Tier: tier, Bound: bound})
		}
	}
	return NewThresholdTable(dims)
}

// Breakpoints returns a copy of one dimension's ordered breakpoints.
func (t *ThresholdTable) Breakpoints(d domain.Dimension) []Breakpoint {
	return append([]Breakpoint(nil), t.dims[d]...)
}

// Bound returns the configured bound for a tier, if any.
func (t *ThresholdTable) Bound(d domain.Dimension, tier domain.Tier) (float64, bool) {
	for _, bp := range t.dims[d] {
		if bp.Tier == tier {
			return bp.Bound, true
		}
	}
	return 0, false
}

// Tier is the linear scan: the highest tier whose bound the value reaches.
func (t *ThresholdTable) Tier(d domain.Dimension, value float64) domain.Tier {
	tier := domain.TierGood
	for _, bp := range t.dims[d] {
		if d.Falling() {
			if value <= bp.Bound {
				tier = bp.Tier
			}
			continue
		}
		if value >= bp.Bound {
			tier = bp.Tier
		}
	}
	return tier
}

type Classification struct {
	Category  domain.Category  `json:"category"`
	Dimension domain.Dimension `json:"dimension"`
	Tier      domain.Tier      `json:"tier"`
	Value     float64          `json:"value"`
}

// Classify is pure: one result per monitored category present on the reading.
// Air quality takes the worst of smoke, temperature and AQI.
func Classify(r domain.SensorReading, table *ThresholdTable) []Classification {
	var out []Classification
	if r.HasAir() {
		air := Classification{Category: domain.CategoryAirQuality, Tier: domain.TierGood}
		consider := func(d domain.Dimension, v float64) {
			tier := table.Tier(d, v)
			if air.Dimension == "" || tier > air.Tier {
				air.Tier, air.Dimension, air.Value = tier, d, v
			}
		}
		if r.HasSmoke {
			consider(domain.DimensionSmoke, r.SmokeIndex)
		}
		if r.HasTemperature {
			consider(domain.DimensionTemperature, r.TemperatureC)
		}
		if r.HasAQI {
			consider(domain.DimensionAirQuality, r.AQI)
		}
		out = append(out, air)
	}
	if r.WaterLevelPct != nil {
		out = append(out, Classification{
			Category:  domain.CategoryWaterResource,
			Dimension: domain.DimensionWater,
			Tier:      table.Tier(domain.DimensionWater, *r.WaterLevelPct),
			Value:     *r.WaterLevelPct,
		})
	}
	return out
}

// Classifier holds the live table. Reload swaps it atomically so a classification
// pass always sees one complete table.
type Classifier struct {
	table atomic.Pointer[ThresholdTable]
}

func NewClassifier(table *ThresholdTable) *Classifier {
	c := &Classifier{}
	c.table.Store(table)
	return c
}

func (c *Classifier) Table() *ThresholdTable { return c.table.Load() }

func (c *Classifier) Reload(table *ThresholdTable) { c.table.Store(table) }

func (c *Classifier) Classify(r domain.SensorReading) []Classification {
	return Classify(r, c.table.Load())
}
