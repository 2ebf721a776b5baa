package domain

import "time"

type Category string

const (
	CategoryAirQuality    Category = "AIR_QUALITY"
	CategoryWaterResource Category = "WATER_RESOURCE"
	CategoryDevice        Category = "DEVICE"
	CategoryMunicipality  Category = "MUNICIPALITY"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryAirQuality, CategoryWaterResource, CategoryDevice, CategoryMunicipality:
		return true
	}
	return false
}

type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusResolved     Status = "RESOLVED"
)

// Open reports whether the alert still counts against the one-open-alert-per-key rule.
func (s Status) Open() bool { return s == StatusActive || s == StatusAcknowledged }

// SensorReading is the canonical, immutable form of one device payload.
type SensorReading struct {
	DeviceID      string    `db:"device_id" json:"device_id"`
	FacilityID    string    `db:"facility_id" json:"facility_id"`
	Zone          string    `db:"zone" json:"zone,omitempty"`
	SmokeIndex    float64   `db:"smoke_index" json:"smoke_index"`
	TemperatureC  float64   `db:"temperature_c" json:"temperature_c"`
	HumidityPct   float64   `db:"humidity_pct" json:"humidity_pct"`
	AQI           float64   `db:"aqi" json:"aqi"`
	WaterLevelPct *float64  `db:"water_level_pct" json:"water_level_pct,omitempty"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"`

	// Has* flags record which air metrics the device actually reported.
	HasSmoke       bool `db:"-" json:"-"`
	HasTemperature bool `db:"-" json:"-"`
	HasHumidity    bool `db:"-" json:"-"`
	HasAQI         bool `db:"-" json:"-"`
}

// HasAir reports whether the reading carries any air-quality dimension.
func (r SensorReading) HasAir() bool {
	return r.HasSmoke || r.HasTemperature || r.HasAQI
}

type Alert struct {
	ID               string           `db:"id" json:"id"`
	Category         Category         `db:"category" json:"category"`
	Severity         Tier             `db:"severity" json:"severity"`
	Status           Status           `db:"status" json:"status"`
	DeviceOrTankID   string           `db:"device_or_tank_id" json:"device_or_tank_id"`
	FacilityID       string           `db:"facility_id" json:"facility_id"`
	Zone             string           `db:"zone" json:"zone,omitempty"`
	FirstSeenAt      time.Time        `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt       time.Time        `db:"last_seen_at" json:"last_seen_at"`
	AcknowledgedBy   string           `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time       `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedBy       string           `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	Notes            []string         `db:"-" json:"notes,omitempty"`
	ReadingsSnapshot SensorReading    `db:"-" json:"readings_snapshot"`
	Actions          []ActionLogEntry `db:"-" json:"automation_actions"`
}

// Clone returns a deep copy safe to hand out of the store.
func (a Alert) Clone() Alert {
	out := a
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		out.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	if a.ReadingsSnapshot.WaterLevelPct != nil {
		v := *a.ReadingsSnapshot.WaterLevelPct
		out.ReadingsSnapshot.WaterLevelPct = &v
	}
	out.Notes = append([]string(nil), a.Notes...)
	out.Actions = append([]ActionLogEntry(nil), a.Actions...)
	return out
}

// PendingDelivery reports whether any downstream call for this alert still awaits retry.
func (a Alert) PendingDelivery() bool {
	for _, e := range a.Actions {
		if e.Outcome == OutcomePendingRetry {
			return true
		}
	}
	return false
}

type AlertFilter struct {
	Severities []Tier
	Statuses   []Status
	Category   Category
	DeviceID   string
	FacilityID string
	From       time.Time
	To         time.Time
}

// Match applies the filter; zero-valued fields match everything.
func (f AlertFilter) Match(a Alert) bool {
	if len(f.Severities) > 0 && !containsTier(f.Severities, a.Severity) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, a.Status) {
		return false
	}
	if f.Category != "" && f.Category != a.Category {
		return false
	}
	if f.DeviceID != "" && f.DeviceID != a.DeviceOrTankID {
		return false
	}
	if f.FacilityID != "" && f.FacilityID != a.FacilityID {
		return false
	}
	if !f.From.IsZero() && a.FirstSeenAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.FirstSeenAt.After(f.To) {
		return false
	}
	return true
}

func containsTier(ts []Tier, t Tier) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsStatus(ss []Status, s Status) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

type TankStatus string

const (
	TankNormal   TankStatus = "NORMAL"
	TankLow      TankStatus = "LOW"
	TankCritical TankStatus = "CRITICAL"
	TankEmpty    TankStatus = "EMPTY"
)

// Rank orders tank statuses from healthy (0) to empty (3).
func (s TankStatus) Rank() int {
	switch s {
	case TankNormal:
		return 0
	case TankLow:
		return 1
	case TankCritical:
		return 2
	case TankEmpty:
		return 3
	}
	return -1
}

// Depleted is true for the statuses that disable sprinklers.
func (s TankStatus) Depleted() bool { return s == TankCritical || s == TankEmpty }

type Municipality struct {
	Name           string     `db:"municipality_name" json:"name" mapstructure:"name"`
	Phone          string     `db:"municipality_phone" json:"phone" mapstructure:"phone"`
	Email          string     `db:"municipality_email" json:"email" mapstructure:"email"`
	LastNotifiedAt *time.Time `db:"municipality_last_notified_at" json:"last_notified_at,omitempty" mapstructure:"-"`
}

type WaterTank struct {
	TankID             string       `db:"tank_id" json:"tank_id"`
	FacilityID         string       `db:"facility_id" json:"facility_id"`
	Zone               string       `db:"zone" json:"zone"`
	CurrentLevelPct    float64      `db:"current_level_pct" json:"current_level_pct"`
	Status             TankStatus   `db:"status" json:"status"`
	CapacityLiters     float64      `db:"capacity_liters" json:"capacity_liters"`
	Municipality       Municipality `db:"-" json:"municipality"`
	SprinklersDisabled bool         `db:"sprinklers_disabled" json:"sprinklers_disabled"`
	AffectedDeviceIDs  []string     `db:"-" json:"affected_device_ids"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

func (t WaterTank) Clone() WaterTank {
	out := t
	if t.Municipality.LastNotifiedAt != nil {
		v := *t.Municipality.LastNotifiedAt
		out.Municipality.LastNotifiedAt = &v
	}
	out.AffectedDeviceIDs = append([]string(nil), t.AffectedDeviceIDs...)
	return out
}

type ComplianceRecord struct {
	FacilityID           string           `json:"facility_id"`
	PeriodStart          time.Time        `json:"period_start"`
	PeriodEnd            time.Time        `json:"period_end"`
	TotalAlerts          int              `json:"total_alerts"`
	OpenAlerts           int              `json:"open_alerts"`
	ViolationsBySeverity map[Tier]int     `json:"violations_by_severity"`
	ViolationsByCategory map[Category]int `json:"violations_by_category"`
	WeightedViolations   float64          `json:"weighted_violations"`
	SamplePeriods        int              `json:"sample_periods"`
	ComplianceRatePct    float64          `json:"compliance_rate_pct"`
	MeanAckMinutes       float64          `json:"mean_ack_minutes"`
}

type CooldownStatus struct {
	DeviceID         string     `json:"device_id"`
	Action           ActionType `json:"action"`
	OnCooldown       bool       `json:"on_cooldown"`
	RemainingSeconds int        `json:"remaining_seconds"`
}
