package service

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

// TankStatusFor maps a WATER tier onto the tank status scale.
func TankStatusFor(t domain.Tier) domain.TankStatus {
	switch t {
	case domain.TierGood, domain.TierModerate:
		return domain.TankNormal
	case domain.TierWarning:
		return domain.TankLow
	case domain.TierCritical, domain.TierDrone:
		return domain.TankCritical
	case domain.TierEmergency:
		return domain.TankEmpty
	}
	return domain.TankNormal
}

// TierForTankStatus is the inverse used for alert severities.
func TierForTankStatus(s domain.TankStatus) domain.Tier {
	switch s {
	case domain.TankNormal:
		return domain.TierGood
	case domain.TankLow:
		return domain.TierWarning
	case domain.TankCritical:
		return domain.TierCritical
	case domain.TankEmpty:
		return domain.TierEmergency
	}
	return domain.TierGood
}

var tankLadder = []domain.TankStatus{domain.TankNormal, domain.TankLow, domain.TankCritical, domain.TankEmpty}

type tankEntry struct {
	mu       sync.Mutex
	tank     domain.WaterTank
	notified bool // municipality already told about the current depletion episode
}

// CascadeController owns the water tank table and the sprinkler veto derived from it.
type CascadeController struct {
	classifier *Classifier
	margin     float64
	clock      Clock

	mu    sync.RWMutex
	tanks map[string]*tankEntry

	vetoMu sync.RWMutex
	veto   map[string]map[string]struct{} // deviceID -> tanks currently disabling its sprinklers
}

func NewCascadeController(classifier *Classifier, margin float64, clock Clock) *CascadeController {
	if clock == nil {
		clock = SystemClock
	}
	return &CascadeController{
		classifier: classifier,
		margin:     margin,
		clock:      clock,
		tanks:      make(map[string]*tankEntry),
		veto:       make(map[string]map[string]struct{}),
	}
}

// Register adds or replaces a tank. A tank without a status gets one from its
// level; a persisted depleted tank keeps its episode and notification state.
func (c *CascadeController) Register(t domain.WaterTank) error {
	if t.TankID == "" {
		return &domain.ValidationError{Field: "tank_id", Reason: "required"}
	}
	if err := validLevel(t.CurrentLevelPct); err != nil {
		return err
	}
	if t.Status == "" {
		t.Status = TankStatusFor(c.classifier.Table().Tier(domain.DimensionWater, t.CurrentLevelPct))
	}
	if t.Status.Rank() < 0 {
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown tank status %q", t.Status)}
	}
	if t.Status.Depleted() {
		t.SprinklersDisabled = true
	}
	e := &tankEntry{tank: t.Clone(), notified: t.Status.Depleted() && t.Municipality.LastNotifiedAt != nil}

	c.mu.Lock()
	old := c.tanks[t.TankID]
	c.tanks[t.TankID] = e
	c.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		c.setVeto(old.tank.TankID, old.tank.AffectedDeviceIDs, false)
		old.mu.Unlock()
	}
	c.setVeto(t.TankID, t.AffectedDeviceIDs, t.SprinklersDisabled)
	return nil
}

func (c *CascadeController) entry(id string) (*tankEntry, error) {
	c.mu.RLock()
	e, ok := c.tanks[id]
	c.mu.RUnlock()
	if !ok {
		return nil, &domain.NotFoundError{Kind: "tank", ID: id}
	}
	return e, nil
}

func (c *CascadeController) Tank(id string) (domain.WaterTank, error) {
	e, err := c.entry(id)
	if err != nil {
		return domain.WaterTank{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tank.Clone(), nil
}

func (c *CascadeController) Has(id string) bool {
	_, err := c.entry(id)
	return err == nil
}

func (c *CascadeController) Tanks() []domain.WaterTank {
	c.mu.RLock()
	entries := make([]*tankEntry, 0, len(c.tanks))
	for _, e := range c.tanks {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]domain.WaterTank, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.tank.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TankID < out[j].TankID })
	return out
}

// IsSprinklerAvailable is false while any tank serving the device is depleted.
func (c *CascadeController) IsSprinklerAvailable(deviceID string) bool {
	c.vetoMu.RLock()
	defer c.vetoMu.RUnlock()
	return len(c.veto[deviceID]) == 0
}

// DisablingTanks lists the tanks currently vetoing sprinklers for a device.
func (c *CascadeController) DisablingTanks(deviceID string) []string {
	c.vetoMu.RLock()
	defer c.vetoMu.RUnlock()
	out := make([]string, 0, len(c.veto[deviceID]))
	for id := range c.veto[deviceID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *CascadeController) setVeto(tankID string, devices []string, disabled bool) {
	c.vetoMu.Lock()
	defer c.vetoMu.Unlock()
	for _, d := range devices {
		if disabled {
			if c.veto[d] == nil {
				c.veto[d] = make(map[string]struct{})
			}
			c.veto[d][tankID] = struct{}{}
			continue
		}
		delete(c.veto[d], tankID)
		if len(c.veto[d]) == 0 {
			delete(c.veto, d)
		}
	}
}

// Apply records a level and runs the status machine. The returned bool is false
// when the update was older than the tank's last one and therefore ignored.
func (c *CascadeController) Apply(tankID string, level float64, ts time.Time) (domain.CascadeUpdate, bool, error) {
	if err := validLevel(level); err != nil {
		return domain.CascadeUpdate{}, false, err
	}
	e, err := c.entry(tankID)
	if err != nil {
		return domain.CascadeUpdate{}, false, err
	}
	if ts.IsZero() {
		ts = c.clock.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.tank.Status
	if !e.tank.UpdatedAt.IsZero() && ts.Before(e.tank.UpdatedAt) {
		return domain.CascadeUpdate{Tank: e.tank.Clone(), Previous: prev, Current: prev}, false, nil
	}

	next := c.nextStatus(prev, level)
	e.tank.CurrentLevelPct = level
	e.tank.Status = next
	e.tank.UpdatedAt = ts

	upd := domain.CascadeUpdate{Previous: prev, Current: next}
	switch {
	case next.Depleted():
		if !e.tank.SprinklersDisabled {
			e.tank.SprinklersDisabled = true
			upd.SprinklersDisabled = true
			c.setVeto(e.tank.TankID, e.tank.AffectedDeviceIDs, true)
		}
		if !e.notified {
			e.notified = true
			at := c.clock.Now()
			e.tank.Municipality.LastNotifiedAt = &at
			upd.MunicipalityNotified = true
		}
	default:
		if e.tank.SprinklersDisabled {
			e.tank.SprinklersDisabled = false
			upd.SprinklersReenabled = true
			c.setVeto(e.tank.TankID, e.tank.AffectedDeviceIDs, false)
		}
		e.notified = false
	}
	upd.Tank = e.tank.Clone()
	return upd, true, nil
}

// nextStatus applies hysteresis: falling moves at the stated boundary, recovery
// needs the level to clear each boundary by the margin.
func (c *CascadeController) nextStatus(current domain.TankStatus, level float64) domain.TankStatus {
	table := c.classifier.Table()
	raw := TankStatusFor(table.Tier(domain.DimensionWater, level))
	if current == "" || raw.Rank() >= current.Rank() {
		return raw
	}
	s := current
	for s.Rank() > raw.Rank() {
		bound, ok := table.Bound(domain.DimensionWater, TierForTankStatus(s))
		if !ok || level <= bound+c.margin {
			break
		}
		s = tankLadder[s.Rank()-1]
	}
	return s
}

func validLevel(level float64) error {
	if math.IsNaN(level) || math.IsInf(level, 0) || level < 0 || level > 100 {
		return &domain.ValidationError{Field: "level_pct", Reason: fmt.Sprintf("%v outside [0, 100]", level)}
	}
	return nil
}
