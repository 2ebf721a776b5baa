package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ANIKETSHETTY47/energy-grid-analytics-go/aggregator"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

// ComplianceWeights price each alert severity. All weights are non-negative,
// which keeps the compliance rate non-increasing as violations are added.
type ComplianceWeights map[domain.Tier]float64

func WeightsFromConfig(raw map[string]float64) (ComplianceWeights, error) {
	w := make(ComplianceWeights, len(raw))
	for k, v := range raw {
		t, err := domain.ParseTier(strings.ToUpper(k))
		if err != nil {
			return nil, fmt.Errorf("compliance weights: %w", err)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("compliance weights: %s must be a finite non-negative number", k)
		}
		w[t] = v
	}
	return w, nil
}

type AlertSource interface {
	List(f domain.AlertFilter) []domain.Alert
}

type ComplianceAggregator struct {
	alerts       AlertSource
	weights      ComplianceWeights
	samplePeriod time.Duration
}

func NewComplianceAggregator(alerts AlertSource, weights ComplianceWeights, samplePeriod time.Duration) *ComplianceAggregator {
	if samplePeriod <= 0 {
		samplePeriod = time.Hour
	}
	return &ComplianceAggregator{alerts: alerts, weights: weights, samplePeriod: samplePeriod}
}

// Report scores the alerts first seen in [start, end]:
// rate = clamp(100 * (1 - Σweight(severity) / samplePeriods), 0, 100).
func (c *ComplianceAggregator) Report(facilityID string, start, end time.Time) (domain.ComplianceRecord, error) {
	if start.IsZero() || end.IsZero() {
		return domain.ComplianceRecord{}, &domain.ValidationError{Field: "range", Reason: "start and end are required"}
	}
	if start.After(end) {
		return domain.ComplianceRecord{}, &domain.ValidationError{Field: "range", Reason: "start is after end"}
	}
	alerts := c.alerts.List(domain.AlertFilter{FacilityID: facilityID, From: start, To: end})
	return c.score(facilityID, start, end, alerts), nil
}

func (c *ComplianceAggregator) score(facilityID string, start, end time.Time, alerts []domain.Alert) domain.ComplianceRecord {
	rec := domain.ComplianceRecord{
		FacilityID:           facilityID,
		PeriodStart:          start,
		PeriodEnd:            end,
		TotalAlerts:          len(alerts),
		ViolationsBySeverity: make(map[domain.Tier]int),
		ViolationsByCategory: make(map[domain.Category]int),
		SamplePeriods:        SamplePeriods(start, end, c.samplePeriod),
	}
	var ackLatency []aggregator.Point
	for _, a := range alerts {
		rec.ViolationsBySeverity[a.Severity]++
		rec.ViolationsByCategory[a.Category]++
		rec.WeightedViolations += c.weights[a.Severity]
		if a.Status.Open() {
			rec.OpenAlerts++
		}
		if a.AcknowledgedAt != nil {
			ackLatency = append(ackLatency, aggregator.Point{
				Value:     a.AcknowledgedAt.Sub(a.FirstSeenAt).Minutes(),
				Timestamp: *a.AcknowledgedAt,
			})
		}
	}
	if len(ackLatency) > 0 {
		rec.MeanAckMinutes = math.Round(aggregator.Average(ackLatency)*100) / 100
	}
	rec.ComplianceRatePct = ComplianceRate(rec.WeightedViolations, rec.SamplePeriods)
	return rec
}

// SamplePeriods is the number of sample periods covered by the window, at least one.
func SamplePeriods(start, end time.Time, period time.Duration) int {
	n := int(math.Ceil(float64(end.Sub(start)) / float64(period)))
	if n < 1 {
		return 1
	}
	return n
}

func ComplianceRate(weighted float64, periods int) float64 {
	if periods < 1 {
		periods = 1
	}
	rate := 100 * (1 - weighted/float64(periods))
	rate = math.Max(0, math.Min(100, rate))
	return math.Round(rate*100) / 100
}
