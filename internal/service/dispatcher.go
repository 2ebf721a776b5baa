package service

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

// CandidateActions is the fixed tier-to-actions table for a category.
func CandidateActions(c domain.Category, t domain.Tier) []domain.ActionType {
	switch c {
	case domain.CategoryAirQuality:
		return airActions(t)
	case domain.CategoryWaterResource:
		return waterActions(t)
	case domain.CategoryDevice, domain.CategoryMunicipality:
		return nil
	}
	return nil
}

func airActions(t domain.Tier) []domain.ActionType {
	switch t {
	case domain.TierGood, domain.TierModerate:
		return nil
	case domain.TierWarning:
		return []domain.ActionType{domain.ActionFanOn}
	case domain.TierCritical:
		return []domain.ActionType{domain.ActionFanOn, domain.ActionSprinklerOn, domain.ActionLEDAlertOn}
	case domain.TierDrone:
		return append(airActions(domain.TierCritical), domain.ActionDroneDeploy)
	case domain.TierEmergency:
		return append(airActions(domain.TierDrone), domain.ActionEmergencyNotify)
	}
	return nil
}

func waterActions(t domain.Tier) []domain.ActionType {
	switch t {
	case domain.TierGood, domain.TierModerate:
		return nil
	case domain.TierWarning:
		return []domain.ActionType{domain.ActionPumpOn}
	case domain.TierCritical, domain.TierDrone, domain.TierEmergency:
		return []domain.ActionType{domain.ActionPumpOn, domain.ActionLEDAlertOn}
	}
	return nil
}

// CooldownsFromConfig maps config keys like "fan_on" onto action types.
func CooldownsFromConfig(raw map[string]time.Duration) (map[domain.ActionType]time.Duration, error) {
	out := make(map[domain.ActionType]time.Duration, len(raw))
	for k, d := range raw {
		a, err := domain.ParseAction(strings.ToUpper(k))
		if err != nil {
			return nil, fmt.Errorf("cooldowns: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("cooldowns: %s is negative", k)
		}
		out[a] = d
	}
	return out, nil
}

type SprinklerVeto interface {
	IsSprinklerAvailable(deviceID string) bool
}

type cooldownKey struct {
	deviceID string
	action   domain.ActionType
}

type cooldownWindow struct {
	mu          sync.Mutex
	lastFiredAt time.Time
	fired       bool
}

// Dispatcher owns the per-device, per-action cooldown windows. Windows live in
// memory only; after a restart every action may fire once immediately.
type Dispatcher struct {
	durations map[domain.ActionType]time.Duration
	veto      SprinklerVeto
	clock     Clock
	windows   sync.Map // cooldownKey -> *cooldownWindow
}

func NewDispatcher(durations map[domain.ActionType]time.Duration, veto SprinklerVeto, clock Clock) *Dispatcher {
	if clock == nil {
		clock = SystemClock
	}
	d := make(map[domain.ActionType]time.Duration, len(durations))
	for k, v := range durations {
		d[k] = v
	}
	return &Dispatcher{durations: d, veto: veto, clock: clock}
}

func (d *Dispatcher) window(deviceID string, a domain.ActionType) *cooldownWindow {
	k := cooldownKey{deviceID: deviceID, action: a}
	if w, ok := d.windows.Load(k); ok {
		return w.(*cooldownWindow)
	}
	w, _ := d.windows.LoadOrStore(k, &cooldownWindow{})
	return w.(*cooldownWindow)
}

// Decide runs every candidate action for the tier through the sprinkler veto and
// the cooldown gate. Fired actions reset their window to now.
func (d *Dispatcher) Decide(deviceID string, c domain.Category, t domain.Tier) []domain.Decision {
	candidates := CandidateActions(c, t)
	if len(candidates) == 0 {
		return nil
	}
	now := d.clock.Now()
	out := make([]domain.Decision, 0, len(candidates))
	for _, a := range candidates {
		if a == domain.ActionSprinklerOn && d.veto != nil && !d.veto.IsSprinklerAvailable(deviceID) {
			out = append(out, domain.Decision{
				Action:  a,
				Outcome: domain.OutcomeSuppressedUnavailable,
				Note:    vetoNote(d.veto, deviceID),
			})
			continue
		}
		force := a == domain.ActionEmergencyNotify && t == domain.TierEmergency
		out = append(out, d.fire(deviceID, a, now, force))
	}
	return out
}

func (d *Dispatcher) fire(deviceID string, a domain.ActionType, now time.Time, force bool) domain.Decision {
	w := d.window(deviceID, a)
	w.mu.Lock()
	defer w.mu.Unlock()

	dur := d.durations[a]
	if w.fired && !force {
		if elapsed := now.Sub(w.lastFiredAt); elapsed < dur {
			remaining := remainingSeconds(dur - elapsed)
			return domain.Decision{
				Action:           a,
				Outcome:          domain.OutcomeSuppressedCooldown,
				RemainingSeconds: remaining,
				Note:             fmt.Sprintf("on cooldown, %d seconds remaining", remaining),
			}
		}
	}
	w.fired = true
	w.lastFiredAt = now
	dec := domain.Decision{Action: a, Fired: true, Outcome: domain.OutcomeFired}
	if force {
		dec.Note = "emergency tier bypasses cooldown"
	}
	return dec
}

// Status derives the remaining cooldown from the clock.
func (d *Dispatcher) Status(deviceID string, a domain.ActionType) domain.CooldownStatus {
	st := domain.CooldownStatus{DeviceID: deviceID, Action: a}
	v, ok := d.windows.Load(cooldownKey{deviceID: deviceID, action: a})
	if !ok {
		return st
	}
	w := v.(*cooldownWindow)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.fired {
		return st
	}
	if elapsed := d.clock.Now().Sub(w.lastFiredAt); elapsed < d.durations[a] {
		st.OnCooldown = true
		st.RemainingSeconds = remainingSeconds(d.durations[a] - elapsed)
	}
	return st
}

func remainingSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func vetoNote(v SprinklerVeto, deviceID string) string {
	if c, ok := v.(interface{ DisablingTanks(string) []string }); ok {
		if tanks := c.DisablingTanks(deviceID); len(tanks) > 0 {
			return "sprinklers disabled: water tank " + strings.Join(tanks, ", ") + " depleted"
		}
	}
	return "sprinklers disabled: water supply depleted"
}
