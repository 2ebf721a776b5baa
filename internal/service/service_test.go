package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/events"
)

func smokeReading(device string, smoke float64) map[string]any {
	return map[string]any{
		"device_id":   device,
		"facility_id": "FAC_001",
		"zone":        "A",
		"smoke":       smoke,
	}
}

func TestEngine_SmokeWithDepletedTankSuppressesSprinkler(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterTank(testTank("TANK_001", 10, "ESP32_001")))

	res, err := e.IngestReading(context.Background(), smokeReading("ESP32_001", 450))
	require.NoError(t, err)
	assert.Equal(t, 124.0, res.Reading.AQI)
	require.Len(t, res.Updates, 1)

	u := res.Updates[0]
	assert.Equal(t, domain.UpdateOpened, u.Kind)
	assert.Equal(t, domain.CategoryAirQuality, u.Alert.Category)
	assert.Equal(t, domain.TierCritical, u.Alert.Severity)
	assert.ElementsMatch(t, []domain.ActionType{domain.ActionFanOn, domain.ActionLEDAlertOn}, u.Fired())

	sprinkler := decisionFor(t, u.Decisions, domain.ActionSprinklerOn)
	assert.Equal(t, domain.OutcomeSuppressedUnavailable, sprinkler.Outcome)
	assert.Contains(t, sprinkler.Note, "TANK_001")
	assert.ElementsMatch(t, []domain.ActionType{domain.ActionFanOn, domain.ActionLEDAlertOn}, e.executor.actions())

	st, err := e.CooldownStatus("ESP32_001", domain.ActionSprinklerOn)
	require.NoError(t, err)
	assert.False(t, st.OnCooldown, "a vetoed sprinkler starts no cooldown")

	e.clock.Advance(time.Minute)
	res, err = e.IngestReading(context.Background(), smokeReading("ESP32_001", 450))
	require.NoError(t, err)
	require.Len(t, res.Updates, 1)
	assert.Equal(t, domain.UpdateRefreshed, res.Updates[0].Kind)
	assert.Equal(t, u.Alert.ID, res.Updates[0].Alert.ID)
	assert.Empty(t, res.Updates[0].Fired())
	assert.Len(t, e.executor.actions(), 2)

	fan := decisionFor(t, res.Updates[0].Decisions, domain.ActionFanOn)
	assert.Equal(t, domain.OutcomeSuppressedCooldown, fan.Outcome)
	assert.Equal(t, 840, fan.RemainingSeconds)
}

func TestEngine_GoodReadingTouchesNothing(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.IngestReading(context.Background(), smokeReading("ESP32_001", 20))
	require.NoError(t, err)
	assert.Empty(t, res.Updates)
	assert.Empty(t, e.ListAlerts(domain.AlertFilter{}))
	assert.Empty(t, e.executor.actions())
}

func TestEngine_InvalidReading(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.IngestReading(context.Background(), map[string]any{"device_id": "ESP32_001", "smoke": 450})

	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "facility_id", ve.Field)
	assert.Empty(t, e.ListAlerts(domain.AlertFilter{}))
}

func TestEngine_TankCascade(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterTank(testTank("TANK_001", 45, "ESP32_001")))
	ctx := context.Background()

	upd, err := e.UpdateTankLevel(ctx, "TANK_001", 25, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.TankLow, upd.Current)
	require.Len(t, upd.Alerts, 1)
	water := upd.Alerts[0].Alert
	assert.Equal(t, domain.CategoryWaterResource, water.Category)
	assert.Equal(t, domain.TierWarning, water.Severity)
	assert.Equal(t, []domain.ActionType{domain.ActionPumpOn}, e.executor.actions())

	e.clock.Advance(time.Minute)
	upd, err = e.UpdateTankLevel(ctx, "TANK_001", 18, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.TankCritical, upd.Current)
	assert.True(t, upd.MunicipalityNotified)
	assert.True(t, upd.SprinklersDisabled)
	require.Len(t, upd.Alerts, 2)
	assert.Equal(t, domain.UpdateEscalated, upd.Alerts[0].Kind)
	assert.Equal(t, domain.CategoryMunicipality, upd.Alerts[1].Alert.Category)
	assert.Equal(t, domain.UpdateOpened, upd.Alerts[1].Kind)
	assert.Equal(t, 1, e.notifier.count())
	assert.Equal(t, "Springfield Water", e.notifier.notices[0].Municipality.Name)
	assert.Equal(t, upd.Alerts[1].Alert.ID, e.notifier.notices[0].AlertID)
	assert.Equal(t, []domain.ActionType{domain.ActionPumpOn, domain.ActionLEDAlertOn}, e.executor.actions())
	assert.False(t, e.Cascade.IsSprinklerAvailable("ESP32_001"))

	e.clock.Advance(time.Minute)
	upd, err = e.UpdateTankLevel(ctx, "TANK_001", 19, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.TankCritical, upd.Current)
	assert.False(t, upd.MunicipalityNotified)
	assert.Equal(t, 1, e.notifier.count(), "one notification per depletion episode")

	e.clock.Advance(time.Minute)
	upd, err = e.UpdateTankLevel(ctx, "TANK_001", 50, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.TankNormal, upd.Current)
	assert.True(t, upd.SprinklersReenabled)
	assert.True(t, e.Cascade.IsSprinklerAvailable("ESP32_001"))

	resolved, err := e.GetAlert(water.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, resolved.Status)
	assert.Equal(t, "system:cascade", resolved.ResolvedBy)
	last := resolved.Actions[len(resolved.Actions)-1]
	assert.Equal(t, domain.ActionSprinklersReenabled, last.Action)

	open := e.ListAlerts(domain.AlertFilter{Statuses: []domain.Status{domain.StatusActive, domain.StatusAcknowledged}})
	assert.Empty(t, open)

	tank, err := e.Tank("TANK_001")
	require.NoError(t, err)
	assert.Equal(t, 50.0, tank.CurrentLevelPct)
	assert.False(t, tank.SprinklersDisabled)
}

func TestEngine_TankUpdateErrors(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterTank(testTank("TANK_001", 45)))
	ctx := context.Background()

	var (
		nf *domain.NotFoundError
		ve *domain.ValidationError
	)
	_, err := e.UpdateTankLevel(ctx, "TANK_404", 30, time.Time{})
	assert.True(t, errors.As(err, &nf))
	_, err = e.UpdateTankLevel(ctx, "TANK_001", 150, time.Time{})
	assert.True(t, errors.As(err, &ve))
	_, err = e.UpdateTankLevel(ctx, "", 30, time.Time{})
	assert.True(t, errors.As(err, &ve))
}

func TestEngine_StaleTankUpdateIgnored(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterTank(testTank("TANK_001", 45)))
	ctx := context.Background()

	now := e.clock.Now()
	_, err := e.UpdateTankLevel(ctx, "TANK_001", 30, now)
	require.NoError(t, err)

	upd, err := e.UpdateTankLevel(ctx, "TANK_001", 3, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.TankLow, upd.Current)
	assert.Empty(t, upd.Alerts)
	assert.Equal(t, 0, e.notifier.count())
}

func TestEngine_TankReadingThroughIngest(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterTank(testTank("TANK_002", 50, "ESP32_009")))

	res, err := e.IngestReading(context.Background(), map[string]any{
		"device_id":   "TANK_002",
		"facility_id": "FAC_001",
		"water_level": 15,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Cascade)
	assert.Equal(t, domain.TankCritical, res.Cascade.Current)
	require.Len(t, res.Updates, 2)
	assert.Equal(t, domain.CategoryWaterResource, res.Updates[0].Alert.Category)
	assert.Equal(t, domain.CategoryMunicipality, res.Updates[1].Alert.Category)
	require.NotNil(t, res.Updates[0].Alert.ReadingsSnapshot.WaterLevelPct)
	assert.Equal(t, 15.0, *res.Updates[0].Alert.ReadingsSnapshot.WaterLevelPct)
	assert.False(t, e.Cascade.IsSprinklerAvailable("ESP32_009"))
}

func TestEngine_ExecutorFailureIsPendingRetry(t *testing.T) {
	e := newTestEngine(t)
	e.executor.err = errors.New("relay offline")

	res, err := e.IngestReading(context.Background(), smokeReading("ESP32_001", 450))
	require.NoError(t, err, "delivery failures never fail ingestion")
	require.Len(t, res.Updates, 1)

	a, err := e.GetAlert(res.Updates[0].Alert.ID)
	require.NoError(t, err)
	assert.True(t, a.PendingDelivery())

	var pending []domain.ActionType
	for _, entry := range a.Actions {
		if entry.Outcome == domain.OutcomePendingRetry {
			pending = append(pending, entry.Action)
		}
	}
	assert.ElementsMatch(t, []domain.ActionType{domain.ActionFanOn, domain.ActionSprinklerOn, domain.ActionLEDAlertOn}, pending)

	require.Len(t, e.deliveries.items, 3)
	for _, d := range e.deliveries.items {
		assert.Equal(t, a.ID, d.AlertID)
		assert.Equal(t, "ESP32_001", d.DeviceID)
		assert.Equal(t, "relay offline", d.Error)
		assert.NotEmpty(t, d.ID)
	}

	st, err := e.CooldownStatus("ESP32_001", domain.ActionFanOn)
	require.NoError(t, err)
	assert.True(t, st.OnCooldown, "a failed delivery keeps the cooldown it started")
}

type hangingExecutor struct{}

func (hangingExecutor) Execute(ctx context.Context, _ domain.Command) error {
	<-ctx.Done()
	return ctx.Err()
}

type ctxCheckingDeliveries struct {
	mu   sync.Mutex
	errs []error
}

func (r *ctxCheckingDeliveries) RecordPending(ctx context.Context, _ domain.PendingDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, ctx.Err())
	return ctx.Err()
}

func TestEngine_TimedOutDeliveryIsStillRecorded(t *testing.T) {
	e := newTestEngine(t)
	recorder := &ctxCheckingDeliveries{}
	e.Engine.executor = hangingExecutor{}
	e.Engine.deliveries = recorder
	e.Engine.timeout = 20 * time.Millisecond

	_, err := e.IngestReading(context.Background(), smokeReading("ESP32_001", 450))
	require.NoError(t, err)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.errs, 3)
	for i, err := range recorder.errs {
		assert.NoError(t, err, "record #%d got a spent context", i)
	}
}

func TestEngine_MunicipalityFailureIsPendingRetry(t *testing.T) {
	e := newTestEngine(t)
	e.notifier.err = errors.New("smtp down")
	require.NoError(t, e.RegisterTank(testTank("TANK_001", 45)))

	upd, err := e.UpdateTankLevel(context.Background(), "TANK_001", 4, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.TankEmpty, upd.Current)

	muni := e.ListAlerts(domain.AlertFilter{Category: domain.CategoryMunicipality})
	require.Len(t, muni, 1)
	assert.True(t, muni[0].PendingDelivery())

	require.Len(t, e.deliveries.items, 1)
	assert.Equal(t, "municipality", e.deliveries.items[0].Target)
	assert.Equal(t, domain.ActionMunicipalityNotify, e.deliveries.items[0].Action)
	assert.Contains(t, e.deliveries.items[0].Payload, "TANK_001")
}

func TestEngine_AcknowledgeResolveClear(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	res, err := e.IngestReading(ctx, smokeReading("ESP32_001", 300))
	require.NoError(t, err)
	id := res.Updates[0].Alert.ID

	a, err := e.AcknowledgeAlert(ctx, id, "operator", "looking")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAcknowledged, a.Status)

	a, err = e.ResolveAlert(ctx, id, "operator", "vent cleared")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, a.Status)

	var is *domain.InvalidStateError
	_, err = e.AcknowledgeAlert(ctx, id, "operator", "")
	assert.True(t, errors.As(err, &is))

	var nf *domain.NotFoundError
	_, err = e.ClearAlert(ctx, "ESP32_001", domain.CategoryAirQuality, "operator")
	assert.True(t, errors.As(err, &nf))

	e.clock.Advance(time.Minute)
	res, err = e.IngestReading(ctx, smokeReading("ESP32_001", 300))
	require.NoError(t, err)
	assert.NotEqual(t, id, res.Updates[0].Alert.ID)

	cleared, err := e.ClearAlert(ctx, "ESP32_001", domain.CategoryAirQuality, "bms")
	require.NoError(t, err)
	assert.Equal(t, "bms", cleared.ResolvedBy)

	var ve *domain.ValidationError
	_, err = e.ClearAlert(ctx, "ESP32_001", domain.Category("NOISE"), "bms")
	assert.True(t, errors.As(err, &ve))
}

func TestEngine_CooldownStatusValidation(t *testing.T) {
	e := newTestEngine(t)
	var ve *domain.ValidationError

	_, err := e.CooldownStatus("ESP32_001", domain.ActionMunicipalityNotify)
	assert.True(t, errors.As(err, &ve))
	_, err = e.CooldownStatus("", domain.ActionFanOn)
	assert.True(t, errors.As(err, &ve))

	_, err = e.IngestReading(context.Background(), smokeReading("ESP32_001", 300))
	require.NoError(t, err)
	e.clock.Advance(5 * time.Minute)

	st, err := e.CooldownStatus("ESP32_001", domain.ActionFanOn)
	require.NoError(t, err)
	assert.True(t, st.OnCooldown)
	assert.Equal(t, 600, st.RemainingSeconds)
}

func TestEngine_SubscribeReceivesUpdates(t *testing.T) {
	e := newTestEngine(t)
	ch, unsubscribe := e.Subscribe("test", 16)
	defer unsubscribe()

	_, err := e.IngestReading(context.Background(), smokeReading("ESP32_001", 300))
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeAlert, ev.Type)
		require.NotNil(t, ev.Alert)
		assert.Equal(t, domain.UpdateOpened, ev.Alert.Kind)
		assert.Equal(t, "ESP32_001", ev.Key())
	default:
		t.Fatal("expected an alert event")
	}
}

func TestEngine_ParallelDevicesOneAlertEach(t *testing.T) {
	e := newTestEngine(t)
	const devices, perDevice = 8, 10

	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		for i := 0; i < perDevice; i++ {
			wg.Add(1)
			go func(d int) {
				defer wg.Done()
				_, err := e.IngestReading(context.Background(), smokeReading(fmt.Sprintf("ESP32_%03d", d), 300))
				assert.NoError(t, err)
			}(d)
		}
	}
	wg.Wait()

	alerts := e.ListAlerts(domain.AlertFilter{})
	assert.Len(t, alerts, devices)
	assert.Len(t, e.executor.actions(), devices, "FAN_ON fires once per device inside its cooldown")
}

func TestEngine_ComplianceReport(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.IngestReading(context.Background(), smokeReading("ESP32_001", 300))
	require.NoError(t, err)

	end := e.clock.Now().Add(time.Hour)
	rec, err := e.ComplianceReport("FAC_001", end.Add(-24*time.Hour), end)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalAlerts)
	assert.Equal(t, 95.83, rec.ComplianceRatePct)
}

func TestEngine_ComplianceCountsRestoredHistory(t *testing.T) {
	e := newTestEngine(t)
	firstSeen := e.clock.Now().Add(-2 * time.Hour)
	resolvedAt := firstSeen.Add(30 * time.Minute)
	e.RestoreAlerts([]domain.Alert{{
		ID:             "restored-1",
		Category:       domain.CategoryWaterResource,
		Severity:       domain.TierWarning,
		Status:         domain.StatusResolved,
		DeviceOrTankID: "TANK_001",
		FacilityID:     "FAC_001",
		FirstSeenAt:    firstSeen,
		LastSeenAt:     firstSeen,
		ResolvedBy:     "system:cascade",
		ResolvedAt:     &resolvedAt,
	}})

	rec, err := e.ComplianceReport("FAC_001", e.clock.Now().Add(-24*time.Hour), e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TotalAlerts)
	assert.Equal(t, 0, rec.OpenAlerts)
	assert.Equal(t, 95.83, rec.ComplianceRatePct)
}
