package service

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

var alertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:environmental-safety-engine:alert"))

type alertKey struct {
	subject  string
	category domain.Category
}

func (k alertKey) String() string { return k.subject + "/" + string(k.category) }

// Observation is one qualifying signal for an alert key.
type Observation struct {
	Category   domain.Category
	Subject    string // device or tank id
	FacilityID string
	Zone       string
	Tier       domain.Tier
	Reading    domain.SensorReading
	At         time.Time
	Decisions  []domain.Decision
	Log        []domain.ActionLogEntry // extra entries not produced by the dispatcher
}

const alertShards = 16

// alertShard holds the alerts of every key hashing to it. A key always maps to
// the same shard, so its open alert and episode count live next to each other.
type alertShard struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Alert
	open     map[alertKey]string
	episodes map[alertKey]int
}

// AlertManager owns the alert store. Every mutation of a key holds that key's
// lock, so reading-driven escalation and ack/resolve calls never interleave.
// Keys on different shards never share a store lock.
type AlertManager struct {
	clock  Clock
	bucket time.Duration
	locks  *keyLocks
	shards [alertShards]*alertShard
	index  sync.Map // alert id -> alertKey
}

func NewAlertManager(clock Clock, bucket time.Duration) *AlertManager {
	if clock == nil {
		clock = SystemClock
	}
	if bucket <= 0 {
		bucket = time.Minute
	}
	m := &AlertManager{clock: clock, bucket: bucket, locks: newKeyLocks()}
	for i := range m.shards {
		m.shards[i] = &alertShard{
			byID:     make(map[string]*domain.Alert),
			open:     make(map[alertKey]string),
			episodes: make(map[alertKey]int),
		}
	}
	return m
}

func (m *AlertManager) shard(k alertKey) *alertShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.String()))
	return m.shards[h.Sum32()%alertShards]
}

// AlertID derives the stable id for the n-th episode of a key opened at openedAt.
func AlertID(subject string, c domain.Category, openedAt time.Time, bucket time.Duration, episode int) string {
	b := openedAt.UTC().Truncate(bucket).Unix()
	name := fmt.Sprintf("%s|%s|%d|%d", subject, c, b, episode)
	return uuid.NewSHA1(alertNamespace, []byte(name)).String()
}

// Observe opens a new alert for the key or folds the observation into the open one.
// Severity only ever escalates while the alert is open.
func (m *AlertManager) Observe(o Observation) (domain.AlertUpdate, error) {
	if o.Subject == "" {
		return domain.AlertUpdate{}, &domain.ValidationError{Field: "device_id", Reason: "required"}
	}
	if !o.Category.Valid() {
		return domain.AlertUpdate{}, &domain.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", o.Category)}
	}
	if o.Tier <= domain.TierGood {
		return domain.AlertUpdate{}, &domain.ValidationError{Field: "tier", Reason: "only tiers above GOOD raise alerts"}
	}
	if o.At.IsZero() {
		o.At = m.clock.Now()
	}
	// The subject outlives the caller's request and becomes a map key.
	o.Subject = strings.Clone(o.Subject)
	key := alertKey{subject: o.Subject, category: o.Category}
	unlock := m.locks.lock(key.String())
	defer unlock()

	entries := make([]domain.ActionLogEntry, 0, len(o.Decisions)+len(o.Log))
	for _, d := range o.Decisions {
		entries = append(entries, d.LogEntry(o.At))
	}
	entries = append(entries, o.Log...)

	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if id, isOpen := sh.open[key]; isOpen {
		a := sh.byID[id]
		kind := domain.UpdateRefreshed
		if o.Tier > a.Severity {
			a.Severity = o.Tier
			kind = domain.UpdateEscalated
		}
		if o.At.After(a.LastSeenAt) {
			a.LastSeenAt = o.At
		}
		a.ReadingsSnapshot = o.Reading
		a.Actions = append(a.Actions, entries...)
		return domain.AlertUpdate{Kind: kind, Alert: a.Clone(), Decisions: o.Decisions}, nil
	}

	// Skip ids already taken, e.g. by history restored without its episode count.
	var id string
	for {
		sh.episodes[key]++
		id = AlertID(o.Subject, o.Category, o.At, m.bucket, sh.episodes[key])
		if _, taken := sh.byID[id]; !taken {
			break
		}
	}
	a := &domain.Alert{
		ID:               id,
		Category:         o.Category,
		Severity:         o.Tier,
		Status:           domain.StatusActive,
		DeviceOrTankID:   o.Subject,
		FacilityID:       o.FacilityID,
		Zone:             o.Zone,
		FirstSeenAt:      o.At,
		LastSeenAt:       o.At,
		ReadingsSnapshot: o.Reading,
		Actions:          entries,
	}
	sh.byID[a.ID] = a
	sh.open[key] = a.ID
	m.index.Store(a.ID, key)
	return domain.AlertUpdate{Kind: domain.UpdateOpened, Alert: a.Clone(), Decisions: o.Decisions}, nil
}

func (m *AlertManager) lookup(id string) (alertKey, error) {
	v, ok := m.index.Load(id)
	if !ok {
		return alertKey{}, &domain.NotFoundError{Kind: "alert", ID: id}
	}
	return v.(alertKey), nil
}

// Acknowledge moves ACTIVE to ACKNOWLEDGED. Acknowledging an already
// acknowledged alert returns it unchanged; a resolved alert is an InvalidStateError.
func (m *AlertManager) Acknowledge(id, by, notes string) (domain.AlertUpdate, bool, error) {
	if strings.TrimSpace(by) == "" {
		return domain.AlertUpdate{}, false, &domain.ValidationError{Field: "by", Reason: "required"}
	}
	key, err := m.lookup(id)
	if err != nil {
		return domain.AlertUpdate{}, false, err
	}
	unlock := m.locks.lock(key.String())
	defer unlock()

	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	a := sh.byID[id]
	switch a.Status {
	case domain.StatusResolved:
		return domain.AlertUpdate{}, false, &domain.InvalidStateError{ID: id, Op: "acknowledge", Status: a.Status}
	case domain.StatusAcknowledged:
		return domain.AlertUpdate{Kind: domain.UpdateAcknowledged, Alert: a.Clone()}, false, nil
	case domain.StatusActive:
	}
	now := m.clock.Now()
	a.Status = domain.StatusAcknowledged
	a.AcknowledgedBy = strings.Clone(by)
	a.AcknowledgedAt = &now
	if notes != "" {
		a.Notes = append(a.Notes, strings.Clone(notes))
	}
	return domain.AlertUpdate{Kind: domain.UpdateAcknowledged, Alert: a.Clone()}, true, nil
}

// Resolve closes an open alert. The key is free afterwards; the next qualifying
// observation opens a new alert with a new id.
func (m *AlertManager) Resolve(id, by, notes string) (domain.AlertUpdate, error) {
	if strings.TrimSpace(by) == "" {
		return domain.AlertUpdate{}, &domain.ValidationError{Field: "by", Reason: "required"}
	}
	key, err := m.lookup(id)
	if err != nil {
		return domain.AlertUpdate{}, err
	}
	unlock := m.locks.lock(key.String())
	defer unlock()
	return m.resolveLocked(key, id, by, notes)
}

func (m *AlertManager) resolveLocked(key alertKey, id, by, notes string) (domain.AlertUpdate, error) {
	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	a := sh.byID[id]
	if !a.Status.Open() {
		return domain.AlertUpdate{}, &domain.InvalidStateError{ID: id, Op: "resolve", Status: a.Status}
	}
	now := m.clock.Now()
	a.Status = domain.StatusResolved
	a.ResolvedBy = strings.Clone(by)
	a.ResolvedAt = &now
	if notes != "" {
		a.Notes = append(a.Notes, strings.Clone(notes))
	}
	if sh.open[key] == id {
		delete(sh.open, key)
	}
	return domain.AlertUpdate{Kind: domain.UpdateResolved, Alert: a.Clone()}, nil
}

// Clear is the external "cleared" signal for a key: it resolves the open alert.
func (m *AlertManager) Clear(subject string, c domain.Category, by, notes string) (domain.AlertUpdate, error) {
	key := alertKey{subject: subject, category: c}
	unlock := m.locks.lock(key.String())
	defer unlock()

	sh := m.shard(key)
	sh.mu.RLock()
	id, ok := sh.open[key]
	sh.mu.RUnlock()
	if !ok {
		return domain.AlertUpdate{}, &domain.NotFoundError{Kind: "open alert", ID: key.String()}
	}
	return m.resolveLocked(key, id, by, notes)
}

// AppendAction adds entries to an alert's action log whatever its status; late
// delivery failures may land after the alert was resolved.
func (m *AlertManager) AppendAction(id string, entries ...domain.ActionLogEntry) (domain.AlertUpdate, error) {
	key, err := m.lookup(id)
	if err != nil {
		return domain.AlertUpdate{}, err
	}
	unlock := m.locks.lock(key.String())
	defer unlock()

	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	a := sh.byID[id]
	a.Actions = append(a.Actions, entries...)
	return domain.AlertUpdate{Kind: domain.UpdateActionLogged, Alert: a.Clone()}, nil
}

func (m *AlertManager) Get(id string) (domain.Alert, error) {
	key, err := m.lookup(id)
	if err != nil {
		return domain.Alert{}, err
	}
	sh := m.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.byID[id].Clone(), nil
}

// OpenFor returns the open alert for a key, if any.
func (m *AlertManager) OpenFor(subject string, c domain.Category) (domain.Alert, bool) {
	key := alertKey{subject: subject, category: c}
	sh := m.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	id, ok := sh.open[key]
	if !ok {
		return domain.Alert{}, false
	}
	return sh.byID[id].Clone(), true
}

// List returns matching alerts, newest first.
func (m *AlertManager) List(f domain.AlertFilter) []domain.Alert {
	out := make([]domain.Alert, 0)
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, a := range sh.byID {
			if f.Match(*a) {
				out = append(out, a.Clone())
			}
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].FirstSeenAt.After(out[j].FirstSeenAt)
	})
	return out
}

// Restore loads a persisted alert into the store at startup. Resolved alerts
// come back as compliance history and count toward their key's episodes.
func (m *AlertManager) Restore(a domain.Alert) {
	key := alertKey{subject: a.DeviceOrTankID, category: a.Category}
	sh := m.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c := a.Clone()
	if _, seen := sh.byID[a.ID]; !seen {
		sh.episodes[key]++
	}
	sh.byID[a.ID] = &c
	m.index.Store(a.ID, key)
	switch {
	case a.Status.Open():
		sh.open[key] = a.ID
	case sh.open[key] == a.ID:
		delete(sh.open, key)
	}
}
