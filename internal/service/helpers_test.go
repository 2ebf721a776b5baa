package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/config"
	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func defaultTable(t *testing.T) *ThresholdTable {
	t.Helper()
	table, err := ThresholdTableFromConfig(config.DefaultThresholds())
	require.NoError(t, err)
	return table
}

func defaultCooldowns(t *testing.T) map[domain.ActionType]time.Duration {
	t.Helper()
	c, err := CooldownsFromConfig(config.DefaultCooldowns())
	require.NoError(t, err)
	return c
}

type recordingExecutor struct {
	mu   sync.Mutex
	cmds []domain.Command
	err  error
}

func (r *recordingExecutor) Execute(_ context.Context, cmd domain.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func (r *recordingExecutor) actions() []domain.ActionType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ActionType, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c.Action)
	}
	return out
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.MunicipalityNotice
	err     error
}

func (r *recordingNotifier) NotifyMunicipality(_ context.Context, n domain.MunicipalityNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

type recordingDeliveries struct {
	mu    sync.Mutex
	items []domain.PendingDelivery
}

func (r *recordingDeliveries) RecordPending(_ context.Context, d domain.PendingDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
	return nil
}

type testEngine struct {
	*Engine
	clock      *fakeClock
	executor   *recordingExecutor
	notifier   *recordingNotifier
	deliveries *recordingDeliveries
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	weights, err := WeightsFromConfig(config.DefaultWeights())
	require.NoError(t, err)

	te := &testEngine{
		clock:      newFakeClock(),
		executor:   &recordingExecutor{},
		notifier:   &recordingNotifier{},
		deliveries: &recordingDeliveries{},
	}
	e, err := New(Options{
		Thresholds:       defaultTable(t),
		Cooldowns:        defaultCooldowns(t),
		Weights:          weights,
		HysteresisMargin: 5,
		AlertBucket:      time.Minute,
		SamplePeriod:     time.Hour,
		MaxClockSkew:     30 * time.Second,
		Workers:          4,
		QueueSize:        16,
		Clock:            te.clock,
		Logger:           zerolog.Nop(),
		Executor:         te.executor,
		Notifier:         te.notifier,
		Deliveries:       te.deliveries,
		Synchronous:      true,
	})
	require.NoError(t, err)
	te.Engine = e
	t.Cleanup(e.Close)
	return te
}

func ptr(v float64) *float64 { return &v }
