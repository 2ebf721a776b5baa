package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

type staticVeto map[string]bool

func (v staticVeto) IsSprinklerAvailable(deviceID string) bool { return !v[deviceID] }

func decisionFor(t *testing.T, ds []domain.Decision, a domain.ActionType) domain.Decision {
	t.Helper()
	for _, d := range ds {
		if d.Action == a {
			return d
		}
	}
	t.Fatalf("no decision for %s in %+v", a, ds)
	return domain.Decision{}
}

func TestCandidateActions(t *testing.T) {
	assert.Empty(t, CandidateActions(domain.CategoryAirQuality, domain.TierModerate))
	assert.Equal(t, []domain.ActionType{domain.ActionFanOn}, CandidateActions(domain.CategoryAirQuality, domain.TierWarning))
	assert.ElementsMatch(t,
		[]domain.ActionType{domain.ActionFanOn, domain.ActionSprinklerOn, domain.ActionLEDAlertOn, domain.ActionDroneDeploy, domain.ActionEmergencyNotify},
		CandidateActions(domain.CategoryAirQuality, domain.TierEmergency))
	assert.Equal(t, []domain.ActionType{domain.ActionPumpOn}, CandidateActions(domain.CategoryWaterResource, domain.TierWarning))
	assert.Equal(t, []domain.ActionType{domain.ActionPumpOn, domain.ActionLEDAlertOn}, CandidateActions(domain.CategoryWaterResource, domain.TierCritical))
	assert.Empty(t, CandidateActions(domain.CategoryMunicipality, domain.TierEmergency))
}

func TestDispatcher_CooldownWindow(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(defaultCooldowns(t), nil, clock)

	first := decisionFor(t, d.Decide("ESP32_001", domain.CategoryAirQuality, domain.TierWarning), domain.ActionFanOn)
	assert.True(t, first.Fired)
	assert.Equal(t, domain.OutcomeFired, first.Outcome)

	clock.Advance(10*time.Minute + 30*time.Second)
	second := decisionFor(t, d.Decide("ESP32_001", domain.CategoryAirQuality, domain.TierWarning), domain.ActionFanOn)
	assert.False(t, second.Fired)
	assert.Equal(t, domain.OutcomeSuppressedCooldown, second.Outcome)
	assert.Equal(t, 270, second.RemainingSeconds)

	clock.Advance(4*time.Minute + 30*time.Second)
	third := decisionFor(t, d.Decide("ESP32_001", domain.CategoryAirQuality, domain.TierWarning), domain.ActionFanOn)
	assert.True(t, third.Fired, "elapsed equal to the cooldown fires")
}

func TestDispatcher_SuppressionDoesNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(defaultCooldowns(t), nil, clock)

	d.Decide("D1", domain.CategoryAirQuality, domain.TierWarning)
	for i := 0; i < 3; i++ {
		clock.Advance(4 * time.Minute)
		d.Decide("D1", domain.CategoryAirQuality, domain.TierWarning)
	}
	clock.Advance(3 * time.Minute)

	dec := decisionFor(t, d.Decide("D1", domain.CategoryAirQuality, domain.TierWarning), domain.ActionFanOn)
	assert.True(t, dec.Fired)
}

func TestDispatcher_PerDeviceAndActionIndependence(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(defaultCooldowns(t), nil, clock)

	d.Decide("D1", domain.CategoryAirQuality, domain.TierWarning)

	other := decisionFor(t, d.Decide("D2", domain.CategoryAirQuality, domain.TierWarning), domain.ActionFanOn)
	assert.True(t, other.Fired)

	ds := d.Decide("D1", domain.CategoryAirQuality, domain.TierCritical)
	assert.False(t, decisionFor(t, ds, domain.ActionFanOn).Fired)
	assert.True(t, decisionFor(t, ds, domain.ActionLEDAlertOn).Fired)
	assert.True(t, decisionFor(t, ds, domain.ActionSprinklerOn).Fired)
}

func TestDispatcher_EmergencyBypassesCooldown(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(defaultCooldowns(t), nil, clock)

	d.Decide("D1", domain.CategoryAirQuality, domain.TierEmergency)
	clock.Advance(time.Second)
	ds := d.Decide("D1", domain.CategoryAirQuality, domain.TierEmergency)

	assert.True(t, decisionFor(t, ds, domain.ActionEmergencyNotify).Fired)
	assert.False(t, decisionFor(t, ds, domain.ActionFanOn).Fired)
	assert.False(t, decisionFor(t, ds, domain.ActionDroneDeploy).Fired)
}

func TestDispatcher_SprinklerVeto(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(defaultCooldowns(t), staticVeto{"D1": true}, clock)

	ds := d.Decide("D1", domain.CategoryAirQuality, domain.TierCritical)
	sprinkler := decisionFor(t, ds, domain.ActionSprinklerOn)
	assert.False(t, sprinkler.Fired)
	assert.Equal(t, domain.OutcomeSuppressedUnavailable, sprinkler.Outcome)
	assert.True(t, decisionFor(t, ds, domain.ActionFanOn).Fired)
	assert.True(t, decisionFor(t, ds, domain.ActionLEDAlertOn).Fired)

	st := d.Status("D1", domain.ActionSprinklerOn)
	assert.False(t, st.OnCooldown, "a vetoed action does not start a cooldown")

	other := decisionFor(t, d.Decide("D2", domain.CategoryAirQuality, domain.TierCritical), domain.ActionSprinklerOn)
	assert.True(t, other.Fired)
}

func TestDispatcher_Status(t *testing.T) {
	clock := newFakeClock()
	d := NewDispatcher(defaultCooldowns(t), nil, clock)

	st := d.Status("D1", domain.ActionFanOn)
	assert.False(t, st.OnCooldown)
	assert.Zero(t, st.RemainingSeconds)

	d.Decide("D1", domain.CategoryAirQuality, domain.TierWarning)
	clock.Advance(time.Minute)
	st = d.Status("D1", domain.ActionFanOn)
	assert.True(t, st.OnCooldown)
	assert.Equal(t, 14*60, st.RemainingSeconds)

	clock.Advance(14 * time.Minute)
	st = d.Status("D1", domain.ActionFanOn)
	assert.False(t, st.OnCooldown)
}

func TestDispatcher_ConcurrentDecideFiresOnce(t *testing.T) {
	d := NewDispatcher(defaultCooldowns(t), nil, newFakeClock())

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, dec := range d.Decide("D1", domain.CategoryAirQuality, domain.TierWarning) {
				if dec.Fired {
					mu.Lock()
					fired++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, fired)
}

func TestCooldownsFromConfig(t *testing.T) {
	got, err := CooldownsFromConfig(map[string]time.Duration{"fan_on": time.Minute})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, got[domain.ActionFanOn])

	_, err = CooldownsFromConfig(map[string]time.Duration{"laser_on": time.Minute})
	assert.Error(t, err)

	_, err = CooldownsFromConfig(map[string]time.Duration{"fan_on": -time.Minute})
	assert.Error(t, err)
}
