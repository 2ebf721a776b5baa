package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/config"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/events"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/metrics"
)

// ActionExecutor fires a relay or downstream system for one automated action.
type ActionExecutor interface {
	Execute(ctx context.Context, cmd domain.Command) error
}

type MunicipalityNotifier interface {
	NotifyMunicipality(ctx context.Context, n domain.MunicipalityNotice) error
}

// DeliveryRecorder stores failed downstream calls for the external retry worker.
type DeliveryRecorder interface {
	RecordPending(ctx context.Context, d domain.PendingDelivery) error
}

const cascadeActor = "system:cascade"

type Options struct {
	Thresholds       *ThresholdTable
	Cooldowns        map[domain.ActionType]time.Duration
	Weights          ComplianceWeights
	HysteresisMargin float64
	AlertBucket      time.Duration
	SamplePeriod     time.Duration
	MaxClockSkew     time.Duration
	Workers          int
	QueueSize        int
	BusBuffer        int
	DeliveryTimeout  time.Duration

	Clock      Clock
	Logger     zerolog.Logger
	Bus        *events.Bus
	Executor   ActionExecutor
	Notifier   MunicipalityNotifier
	Deliveries DeliveryRecorder

	// Synchronous runs collaborator calls inline instead of on their own goroutine.
	Synchronous bool
}

// OptionsFromConfig builds engine options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	table, err := ThresholdTableFromConfig(cfg.Thresholds)
	if err != nil {
		return Options{}, err
	}
	cooldowns, err := CooldownsFromConfig(cfg.Cooldowns)
	if err != nil {
		return Options{}, err
	}
	weights, err := WeightsFromConfig(cfg.Compliance.Weights)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Thresholds:       table,
		Cooldowns:        cooldowns,
		Weights:          weights,
		HysteresisMargin: cfg.Engine.HysteresisMargin,
		AlertBucket:      cfg.Engine.AlertBucket,
		SamplePeriod:     cfg.Compliance.SamplePeriod,
		MaxClockSkew:     cfg.Engine.MaxClockSkew,
		Workers:          cfg.Engine.Workers,
		QueueSize:        cfg.Engine.QueueSize,
		BusBuffer:        cfg.Events.Buffer,
		DeliveryTimeout:  cfg.Notify.Timeout,
	}, nil
}

// TanksFromConfig converts the bootstrap tank registry.
func TanksFromConfig(cfg *config.Config) []domain.WaterTank {
	out := make([]domain.WaterTank, 0, len(cfg.Tanks))
	for _, t := range cfg.Tanks {
		out = append(out, domain.WaterTank{
			TankID:          t.TankID,
			FacilityID:      t.FacilityID,
			Zone:            t.Zone,
			CurrentLevelPct: t.LevelPct,
			CapacityLiters:  t.CapacityLiters,
			Municipality: domain.Municipality{
				Name:  t.Municipality.Name,
				Phone: t.Municipality.Phone,
				Email: t.Municipality.Email,
			},
			AffectedDeviceIDs: append([]string(nil), t.AffectedDeviceIDs...),
		})
	}
	return out
}

// Engine is the command/query surface over the rule engine components.
type Engine struct {
	Normalizer *Normalizer
	Classifier *Classifier
	Cascade    *CascadeController
	Dispatcher *Dispatcher
	Alerts     *AlertManager
	Compliance *ComplianceAggregator

	bus        *events.Bus
	pool       *PartitionPool
	clock      Clock
	log        zerolog.Logger
	executor   ActionExecutor
	notifier   MunicipalityNotifier
	deliveries DeliveryRecorder
	timeout    time.Duration
	sync       bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	if opts.Thresholds == nil {
		return nil, errors.New("engine: threshold table is required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(opts.Logger)
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	if opts.MaxClockSkew <= 0 {
		opts.MaxClockSkew = 30 * time.Second
	}

	classifier := NewClassifier(opts.Thresholds)
	cascade := NewCascadeController(classifier, opts.HysteresisMargin, opts.Clock)
	alerts := NewAlertManager(opts.Clock, opts.AlertBucket)
	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		Normalizer: NewNormalizer(opts.Clock, opts.MaxClockSkew),
		Classifier: classifier,
		Cascade:    cascade,
		Dispatcher: NewDispatcher(opts.Cooldowns, cascade, opts.Clock),
		Alerts:     alerts,
		Compliance: NewComplianceAggregator(alerts, opts.Weights, opts.SamplePeriod),
		bus:        opts.Bus,
		pool:       NewPartitionPool(opts.Workers, opts.QueueSize),
		clock:      opts.Clock,
		log:        opts.Logger.With().Str("component", "engine").Logger(),
		executor:   opts.Executor,
		notifier:   opts.Notifier,
		deliveries: opts.Deliveries,
		timeout:    opts.DeliveryTimeout,
		sync:       opts.Synchronous,
		baseCtx:    ctx,
		cancel:     cancel,
	}, nil
}

// Close drains queued readings, waits for in-flight collaborator calls and
// cancels whatever is still running after that.
func (e *Engine) Close() {
	e.pool.Close()
	e.wg.Wait()
	e.cancel()
}

func (e *Engine) Bus() *events.Bus { return e.bus }

// Subscribe is the push replacement for polling: every alert and cascade update
// is delivered on the returned channel.
func (e *Engine) Subscribe(name string, buffer int) (<-chan events.Event, func()) {
	return e.bus.Subscribe(name, buffer)
}

// ReloadThresholds swaps the classification table as one unit.
func (e *Engine) ReloadThresholds(t *ThresholdTable) {
	e.Classifier.Reload(t)
	e.log.Info().Msg("threshold table reloaded")
}

// IngestReading normalizes a payload and runs it through classification,
// the cascade, the dispatcher and the alert store on the device's partition.
func (e *Engine) IngestReading(ctx context.Context, payload map[string]any) (domain.IngestResult, error) {
	r, err := e.Normalizer.Normalize(payload)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			metrics.ReadingsRejected.WithLabelValues(ve.Field).Inc()
		}
		return domain.IngestResult{}, err
	}
	metrics.ReadingsIngested.WithLabelValues(r.FacilityID).Inc()

	var (
		res     domain.IngestResult
		procErr error
	)
	if err := e.pool.Do(ctx, r.DeviceID, func() {
		res, procErr = e.processReading(r)
	}); err != nil {
		return domain.IngestResult{}, err
	}
	return res, procErr
}

func (e *Engine) processReading(r domain.SensorReading) (domain.IngestResult, error) {
	res := domain.IngestResult{Reading: r}
	for _, c := range e.Classifier.Classify(r) {
		if c.Category == domain.CategoryWaterResource && e.Cascade.Has(r.DeviceID) {
			upd, err := e.applyTank(r.DeviceID, c.Value, r.Timestamp, &r)
			if err != nil {
				return res, err
			}
			res.Cascade = upd
			if upd != nil {
				res.Updates = append(res.Updates, upd.Alerts...)
			}
			continue
		}
		if c.Tier <= domain.TierGood {
			continue
		}
		decisions := e.Dispatcher.Decide(r.DeviceID, c.Category, c.Tier)
		u, err := e.Alerts.Observe(Observation{
			Category:   c.Category,
			Subject:    r.DeviceID,
			FacilityID: r.FacilityID,
			Zone:       r.Zone,
			Tier:       c.Tier,
			Reading:    r,
			At:         r.Timestamp,
			Decisions:  decisions,
		})
		if err != nil {
			return res, err
		}
		e.recordDecisions(decisions)
		e.publishAlert(u)
		e.execute(u.Alert, c.Tier, decisions)
		res.Updates = append(res.Updates, u)
	}
	return res, nil
}

// UpdateTankLevel applies a level report to a tank on the tank's partition.
// The returned update is nil only on error.
func (e *Engine) UpdateTankLevel(ctx context.Context, tankID string, levelPct float64, ts time.Time) (*domain.CascadeUpdate, error) {
	if strings.TrimSpace(tankID) == "" {
		return nil, &domain.ValidationError{Field: "tank_id", Reason: "required"}
	}
	if err := validLevel(levelPct); err != nil {
		return nil, err
	}
	// Callers such as HTTP handlers may pass ids backed by reused buffers.
	tankID = strings.Clone(tankID)
	if !e.Cascade.Has(tankID) {
		return nil, &domain.NotFoundError{Kind: "tank", ID: tankID}
	}
	if ts.IsZero() || ts.After(e.clock.Now()) {
		ts = e.clock.Now()
	}
	var (
		upd *domain.CascadeUpdate
		err error
	)
	if perr := e.pool.Do(ctx, tankID, func() {
		upd, err = e.applyTank(tankID, levelPct, ts, nil)
	}); perr != nil {
		return nil, perr
	}
	return upd, err
}

func (e *Engine) applyTank(tankID string, level float64, ts time.Time, reading *domain.SensorReading) (*domain.CascadeUpdate, error) {
	upd, applied, err := e.Cascade.Apply(tankID, level, ts)
	if err != nil {
		return nil, err
	}
	if !applied {
		e.log.Debug().Str("tank_id", tankID).Time("ts", ts).Msg("stale tank update ignored")
		return &upd, nil
	}
	metrics.TankLevel.WithLabelValues(tankID).Set(level)
	tank := upd.Tank

	snapshot := domain.SensorReading{
		DeviceID:      tankID,
		FacilityID:    tank.FacilityID,
		Zone:          tank.Zone,
		WaterLevelPct: &level,
		Timestamp:     ts,
	}
	if reading != nil {
		snapshot = *reading
	}
	base := Observation{
		Subject:    tankID,
		FacilityID: tank.FacilityID,
		Zone:       tank.Zone,
		Tier:       TierForTankStatus(upd.Current),
		Reading:    snapshot,
		At:         ts,
	}

	if base.Tier > domain.TierGood {
		obs := base
		obs.Category = domain.CategoryWaterResource
		obs.Decisions = e.Dispatcher.Decide(tankID, domain.CategoryWaterResource, base.Tier)
		if upd.SprinklersDisabled {
			obs.Log = append(obs.Log, domain.ActionLogEntry{
				Action:  domain.ActionSprinklerOn,
				Outcome: domain.OutcomeRecorded,
				At:      ts,
				Note:    "sprinklers disabled for " + strings.Join(tank.AffectedDeviceIDs, ", "),
			})
		}
		u, err := e.Alerts.Observe(obs)
		if err != nil {
			return nil, err
		}
		e.recordDecisions(obs.Decisions)
		upd.Alerts = append(upd.Alerts, u)
		e.execute(u.Alert, base.Tier, obs.Decisions)
	}

	if upd.MunicipalityNotified {
		obs := base
		obs.Category = domain.CategoryMunicipality
		obs.Log = []domain.ActionLogEntry{{
			Action:  domain.ActionMunicipalityNotify,
			Outcome: domain.OutcomeRecorded,
			At:      ts,
			Note:    fmt.Sprintf("%s notified: tank %s %s at %.1f%%", tank.Municipality.Name, tankID, upd.Current, level),
		}}
		u, err := e.Alerts.Observe(obs)
		if err != nil {
			return nil, err
		}
		metrics.MunicipalityNotifications.Inc()
		upd.Alerts = append(upd.Alerts, u)
		e.notifyMunicipality(domain.MunicipalityNotice{
			TankID:       tankID,
			FacilityID:   tank.FacilityID,
			Zone:         tank.Zone,
			Status:       upd.Current,
			LevelPct:     level,
			Municipality: tank.Municipality,
			AlertID:      u.Alert.ID,
			At:           ts,
		})
	}

	if upd.SprinklersReenabled {
		if a, ok := e.Alerts.OpenFor(tankID, domain.CategoryWaterResource); ok {
			u, err := e.Alerts.AppendAction(a.ID, domain.ActionLogEntry{
				Action:  domain.ActionSprinklersReenabled,
				Outcome: domain.OutcomeRecorded,
				At:      ts,
				Note:    "sprinklers re-enabled for " + strings.Join(tank.AffectedDeviceIDs, ", "),
			})
			if err == nil {
				upd.Alerts = append(upd.Alerts, u)
			}
		}
		e.log.Info().Str("tank_id", tankID).Strs("devices", tank.AffectedDeviceIDs).Msg("sprinklers re-enabled")
	}

	if upd.Changed() && upd.Current == domain.TankNormal {
		for _, c := range []domain.Category{domain.CategoryWaterResource, domain.CategoryMunicipality} {
			u, err := e.Alerts.Clear(tankID, c, cascadeActor, "tank recovered to NORMAL")
			var nf *domain.NotFoundError
			switch {
			case errors.As(err, &nf):
			case err != nil:
				return nil, err
			default:
				upd.Alerts = append(upd.Alerts, u)
			}
		}
	}

	if upd.Changed() {
		e.log.Info().Str("tank_id", tankID).Str("from", string(upd.Previous)).Str("to", string(upd.Current)).
			Float64("level_pct", level).Msg("tank status changed")
	}
	for _, u := range upd.Alerts {
		e.publishAlert(u)
	}
	e.bus.Publish(events.NewCascadeEvent(upd, e.clock.Now()))
	return &upd, nil
}

func (e *Engine) AcknowledgeAlert(_ context.Context, id, by, notes string) (domain.Alert, error) {
	u, changed, err := e.Alerts.Acknowledge(id, by, notes)
	if err != nil {
		return domain.Alert{}, err
	}
	if changed {
		e.log.Info().Str("alert_id", id).Str("by", by).Msg("alert acknowledged")
		e.publishAlert(u)
	}
	return u.Alert, nil
}

func (e *Engine) ResolveAlert(_ context.Context, id, by, notes string) (domain.Alert, error) {
	u, err := e.Alerts.Resolve(id, by, notes)
	if err != nil {
		return domain.Alert{}, err
	}
	e.log.Info().Str("alert_id", id).Str("by", by).Msg("alert resolved")
	e.publishAlert(u)
	return u.Alert, nil
}

// ClearAlert resolves the open alert for a device/category on an external
// "cleared" signal.
func (e *Engine) ClearAlert(_ context.Context, deviceOrTankID string, c domain.Category, by string) (domain.Alert, error) {
	if strings.TrimSpace(by) == "" {
		return domain.Alert{}, &domain.ValidationError{Field: "by", Reason: "required"}
	}
	if !c.Valid() {
		return domain.Alert{}, &domain.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", c)}
	}
	u, err := e.Alerts.Clear(deviceOrTankID, c, by, "cleared")
	if err != nil {
		return domain.Alert{}, err
	}
	e.publishAlert(u)
	return u.Alert, nil
}

func (e *Engine) GetAlert(id string) (domain.Alert, error) { return e.Alerts.Get(id) }

func (e *Engine) ListAlerts(f domain.AlertFilter) []domain.Alert { return e.Alerts.List(f) }

func (e *Engine) ComplianceReport(facilityID string, start, end time.Time) (domain.ComplianceRecord, error) {
	return e.Compliance.Report(facilityID, start, end)
}

func (e *Engine) CooldownStatus(deviceID string, a domain.ActionType) (domain.CooldownStatus, error) {
	if strings.TrimSpace(deviceID) == "" {
		return domain.CooldownStatus{}, &domain.ValidationError{Field: "device_id", Reason: "required"}
	}
	if !a.Automated() {
		return domain.CooldownStatus{}, &domain.ValidationError{Field: "action", Reason: fmt.Sprintf("unknown automation action %q", a)}
	}
	return e.Dispatcher.Status(deviceID, a), nil
}

func (e *Engine) RegisterTank(t domain.WaterTank) error { return e.Cascade.Register(t) }

func (e *Engine) Tank(id string) (domain.WaterTank, error) { return e.Cascade.Tank(id) }

func (e *Engine) Tanks() []domain.WaterTank { return e.Cascade.Tanks() }

// RestoreAlerts seeds the store with persisted alerts, typically at startup.
func (e *Engine) RestoreAlerts(alerts []domain.Alert) {
	for _, a := range alerts {
		e.Alerts.Restore(a)
	}
}

func (e *Engine) publishAlert(u domain.AlertUpdate) {
	metrics.AlertTransitions.WithLabelValues(string(u.Alert.Category), string(u.Kind)).Inc()
	if u.Kind == domain.UpdateOpened {
		e.log.Info().Str("alert_id", u.Alert.ID).Str("device_id", u.Alert.DeviceOrTankID).
			Str("category", string(u.Alert.Category)).Str("severity", u.Alert.Severity.String()).Msg("alert opened")
	}
	e.bus.Publish(events.NewAlertEvent(u, e.clock.Now()))
}

func (e *Engine) recordDecisions(ds []domain.Decision) {
	for _, d := range ds {
		metrics.ActionDecisions.WithLabelValues(string(d.Action), string(d.Outcome)).Inc()
	}
}

func (e *Engine) spawn(fn func(ctx context.Context)) {
	if e.sync {
		ctx, cancel := context.WithTimeout(e.baseCtx, e.timeout)
		defer cancel()
		fn(ctx)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.baseCtx, e.timeout)
		defer cancel()
		fn(ctx)
	}()
}

// execute hands fired actions to the executor. Failures never undo the
// decision; they are logged on the alert as PENDING_RETRY.
func (e *Engine) execute(a domain.Alert, tier domain.Tier, ds []domain.Decision) {
	if e.executor == nil {
		return
	}
	for _, d := range ds {
		if !d.Fired {
			continue
		}
		cmd := domain.Command{
			Action:     d.Action,
			DeviceID:   a.DeviceOrTankID,
			FacilityID: a.FacilityID,
			Zone:       a.Zone,
			AlertID:    a.ID,
			Tier:       tier,
			IssuedAt:   e.clock.Now(),
		}
		e.spawn(func(ctx context.Context) {
			if err := e.executor.Execute(ctx, cmd); err != nil {
				e.deliveryFailed(ctx, cmd.AlertID, cmd.DeviceID, cmd.Action, string(cmd.Action), cmd, err)
			}
		})
	}
}

func (e *Engine) notifyMunicipality(n domain.MunicipalityNotice) {
	if e.notifier == nil {
		return
	}
	e.spawn(func(ctx context.Context) {
		if err := e.notifier.NotifyMunicipality(ctx, n); err != nil {
			e.deliveryFailed(ctx, n.AlertID, n.TankID, domain.ActionMunicipalityNotify, "municipality", n, err)
		}
	})
}

func (e *Engine) deliveryFailed(ctx context.Context, alertID, deviceID string, action domain.ActionType, target string, payload any, cause error) {
	err := &domain.DeliveryError{Target: target, Err: cause}
	metrics.DeliveryFailures.WithLabelValues(target).Inc()
	e.log.Warn().Err(err).Str("alert_id", alertID).Str("action", string(action)).Msg("downstream delivery failed, pending retry")

	now := e.clock.Now()
	if u, aerr := e.Alerts.AppendAction(alertID, domain.ActionLogEntry{
		Action:  action,
		Outcome: domain.OutcomePendingRetry,
		At:      now,
		Note:    err.Error(),
	}); aerr == nil {
		e.publishAlert(u)
	}

	if e.deliveries == nil {
		return
	}
	// The call's own context is usually spent by now (timeouts are the common failure).
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	body, _ := json.Marshal(payload)
	if rerr := e.deliveries.RecordPending(recordCtx, domain.PendingDelivery{
		ID:       uuid.NewString(),
		AlertID:  alertID,
		Target:   target,
		Action:   action,
		DeviceID: deviceID,
		Payload:  string(body),
		Error:    cause.Error(),
		At:       now,
	}); rerr != nil {
		e.log.Error().Err(rerr).Str("alert_id", alertID).Msg("record pending delivery failed")
	}
}
