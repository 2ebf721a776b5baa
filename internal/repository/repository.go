package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/events"
)

type Repos struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repos { return &Repos{db: db} }

type alertRow struct {
	ID               string     `db:"id"`
	Category         string     `db:"category"`
	Severity         string     `db:"severity"`
	Status           string     `db:"status"`
	DeviceOrTankID   string     `db:"device_or_tank_id"`
	FacilityID       string     `db:"facility_id"`
	Zone             string     `db:"zone"`
	FirstSeenAt      time.Time  `db:"first_seen_at"`
	LastSeenAt       time.Time  `db:"last_seen_at"`
	AcknowledgedBy   string     `db:"acknowledged_by"`
	AcknowledgedAt   *time.Time `db:"acknowledged_at"`
	ResolvedBy       string     `db:"resolved_by"`
	ResolvedAt       *time.Time `db:"resolved_at"`
	Notes            []byte     `db:"notes"`
	ReadingsSnapshot []byte     `db:"readings_snapshot"`
	Actions          []byte     `db:"actions"`
}

func toAlertRow(a domain.Alert) (alertRow, error) {
	row := alertRow{
		ID:             a.ID,
		Category:       string(a.Category),
		Severity:       a.Severity.String(),
		Status:         string(a.Status),
		DeviceOrTankID: a.DeviceOrTankID,
		FacilityID:     a.FacilityID,
		Zone:           a.Zone,
		FirstSeenAt:    a.FirstSeenAt,
		LastSeenAt:     a.LastSeenAt,
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
		ResolvedBy:     a.ResolvedBy,
		ResolvedAt:     a.ResolvedAt,
	}
	var err error
	notes := a.Notes
	if notes == nil {
		notes = []string{}
	}
	if row.Notes, err = json.Marshal(notes); err != nil {
		return row, err
	}
	if row.ReadingsSnapshot, err = json.Marshal(a.ReadingsSnapshot); err != nil {
		return row, err
	}
	actions := a.Actions
	if actions == nil {
		actions = []domain.ActionLogEntry{}
	}
	if row.Actions, err = json.Marshal(actions); err != nil {
		return row, err
	}
	return row, nil
}

func (r alertRow) alert() (domain.Alert, error) {
	sev, err := domain.ParseTier(r.Severity)
	if err != nil {
		return domain.Alert{}, err
	}
	a := domain.Alert{
		ID:             r.ID,
		Category:       domain.Category(r.Category),
		Severity:       sev,
		Status:         domain.Status(r.Status),
		DeviceOrTankID: r.DeviceOrTankID,
		FacilityID:     r.FacilityID,
		Zone:           r.Zone,
		FirstSeenAt:    r.FirstSeenAt,
		LastSeenAt:     r.LastSeenAt,
		AcknowledgedBy: r.AcknowledgedBy,
		AcknowledgedAt: r.AcknowledgedAt,
		ResolvedBy:     r.ResolvedBy,
		ResolvedAt:     r.ResolvedAt,
	}
	if len(r.Notes) > 0 {
		if err := json.Unmarshal(r.Notes, &a.Notes); err != nil {
			return a, fmt.Errorf("alert %s notes: %w", r.ID, err)
		}
	}
	if len(r.ReadingsSnapshot) > 0 {
		if err := json.Unmarshal(r.ReadingsSnapshot, &a.ReadingsSnapshot); err != nil {
			return a, fmt.Errorf("alert %s snapshot: %w", r.ID, err)
		}
	}
	if len(r.Actions) > 0 {
		if err := json.Unmarshal(r.Actions, &a.Actions); err != nil {
			return a, fmt.Errorf("alert %s actions: %w", r.ID, err)
		}
	}
	return a, nil
}

const upsertAlert = `INSERT INTO alerts (id, category, severity, status, device_or_tank_id, facility_id, zone,
	first_seen_at, last_seen_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at, notes, readings_snapshot, actions)
VALUES (:id, :category, :severity, :status, :device_or_tank_id, :facility_id, :zone,
	:first_seen_at, :last_seen_at, :acknowledged_by, :acknowledged_at, :resolved_by, :resolved_at, :notes, :readings_snapshot, :actions)
ON CONFLICT (id) DO UPDATE SET
	severity = EXCLUDED.severity,
	status = EXCLUDED.status,
	last_seen_at = EXCLUDED.last_seen_at,
	acknowledged_by = EXCLUDED.acknowledged_by,
	acknowledged_at = EXCLUDED.acknowledged_at,
	resolved_by = EXCLUDED.resolved_by,
	resolved_at = EXCLUDED.resolved_at,
	notes = EXCLUDED.notes,
	readings_snapshot = EXCLUDED.readings_snapshot,
	actions = EXCLUDED.actions`

func (r *Repos) UpsertAlert(ctx context.Context, a domain.Alert) error {
	row, err := toAlertRow(a)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	if _, err := r.db.NamedExecContext(ctx, upsertAlert, row); err != nil {
		return fmt.Errorf("upsert alert %s: %w", a.ID, err)
	}
	return nil
}

// LoadAlerts returns every open alert plus any alert last seen at or after
// since, oldest first. Resolved alerts in that window are compliance history.
func (r *Repos) LoadAlerts(ctx context.Context, since time.Time) ([]domain.Alert, error) {
	var rows []alertRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, category, severity, status, device_or_tank_id, facility_id, zone,
	first_seen_at, last_seen_at, acknowledged_by, acknowledged_at, resolved_by, resolved_at, notes, readings_snapshot, actions
FROM alerts WHERE status IN ('ACTIVE', 'ACKNOWLEDGED') OR last_seen_at >= $1 ORDER BY first_seen_at`, since)
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	out := make([]domain.Alert, 0, len(rows))
	for _, row := range rows {
		a, err := row.alert()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type tankRow struct {
	TankID             string     `db:"tank_id"`
	FacilityID         string     `db:"facility_id"`
	Zone               string     `db:"zone"`
	CurrentLevelPct    float64    `db:"current_level_pct"`
	Status             string     `db:"status"`
	CapacityLiters     float64    `db:"capacity_liters"`
	MunicipalityName   string     `db:"municipality_name"`
	MunicipalityPhone  string     `db:"municipality_phone"`
	MunicipalityEmail  string     `db:"municipality_email"`
	LastNotifiedAt     *time.Time `db:"municipality_last_notified_at"`
	SprinklersDisabled bool       `db:"sprinklers_disabled"`
	AffectedDeviceIDs  []byte     `db:"affected_device_ids"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

const upsertTank = `INSERT INTO water_tanks (tank_id, facility_id, zone, current_level_pct, status, capacity_liters,
	municipality_name, municipality_phone, municipality_email, municipality_last_notified_at,
	sprinklers_disabled, affected_device_ids, updated_at)
VALUES (:tank_id, :facility_id, :zone, :current_level_pct, :status, :capacity_liters,
	:municipality_name, :municipality_phone, :municipality_email, :municipality_last_notified_at,
	:sprinklers_disabled, :affected_device_ids, :updated_at)
ON CONFLICT (tank_id) DO UPDATE SET
	current_level_pct = EXCLUDED.current_level_pct,
	status = EXCLUDED.status,
	municipality_last_notified_at = EXCLUDED.municipality_last_notified_at,
	sprinklers_disabled = EXCLUDED.sprinklers_disabled,
	updated_at = EXCLUDED.updated_at`

func (r *Repos) UpsertTank(ctx context.Context, t domain.WaterTank) error {
	devices := t.AffectedDeviceIDs
	if devices == nil {
		devices = []string{}
	}
	ids, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("encode tank %s: %w", t.TankID, err)
	}
	row := tankRow{
		TankID:             t.TankID,
		FacilityID:         t.FacilityID,
		Zone:               t.Zone,
		CurrentLevelPct:    t.CurrentLevelPct,
		Status:             string(t.Status),
		CapacityLiters:     t.CapacityLiters,
		MunicipalityName:   t.Municipality.Name,
		MunicipalityPhone:  t.Municipality.Phone,
		MunicipalityEmail:  t.Municipality.Email,
		LastNotifiedAt:     t.Municipality.LastNotifiedAt,
		SprinklersDisabled: t.SprinklersDisabled,
		AffectedDeviceIDs:  ids,
		UpdatedAt:          t.UpdatedAt,
	}
	if _, err := r.db.NamedExecContext(ctx, upsertTank, row); err != nil {
		return fmt.Errorf("upsert tank %s: %w", t.TankID, err)
	}
	return nil
}

func (r *Repos) LoadTanks(ctx context.Context) ([]domain.WaterTank, error) {
	var rows []tankRow
	err := r.db.SelectContext(ctx, &rows, `SELECT tank_id, facility_id, zone, current_level_pct, status, capacity_liters,
	municipality_name, municipality_phone, municipality_email, municipality_last_notified_at,
	sprinklers_disabled, affected_device_ids, updated_at
FROM water_tanks ORDER BY tank_id`)
	if err != nil {
		return nil, fmt.Errorf("load tanks: %w", err)
	}
	out := make([]domain.WaterTank, 0, len(rows))
	for _, row := range rows {
		t := domain.WaterTank{
			TankID:          row.TankID,
			FacilityID:      row.FacilityID,
			Zone:            row.Zone,
			CurrentLevelPct: row.CurrentLevelPct,
			Status:          domain.TankStatus(row.Status),
			CapacityLiters:  row.CapacityLiters,
			Municipality: domain.Municipality{
				Name:           row.MunicipalityName,
				Phone:          row.MunicipalityPhone,
				Email:          row.MunicipalityEmail,
				LastNotifiedAt: row.LastNotifiedAt,
			},
			SprinklersDisabled: row.SprinklersDisabled,
			UpdatedAt:          row.UpdatedAt,
		}
		if len(row.AffectedDeviceIDs) > 0 {
			if err := json.Unmarshal(row.AffectedDeviceIDs, &t.AffectedDeviceIDs); err != nil {
				return nil, fmt.Errorf("tank %s devices: %w", row.TankID, err)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

// Sink persists bus events: alert updates upsert the alert, cascade updates upsert the tank.
type Sink struct {
	repos *Repos
}

func NewSink(r *Repos) *Sink { return &Sink{repos: r} }

func (s *Sink) Name() string { return "postgres" }

func (s *Sink) Send(ctx context.Context, e events.Event) error {
	switch {
	case e.Alert != nil:
		return s.repos.UpsertAlert(ctx, e.Alert.Alert)
	case e.Cascade != nil:
		return s.repos.UpsertTank(ctx, e.Cascade.Tank)
	}
	return nil
}
