package domain

import (
	"fmt"
	"time"
)

type ActionType string

const (
	ActionLEDAlertOn      ActionType = "LED_ALERT_ON"
	ActionFanOn           ActionType = "FAN_ON"
	ActionPumpOn          ActionType = "PUMP_ON"
	ActionSprinklerOn     ActionType = "SPRINKLER_ON"
	ActionDroneDeploy     ActionType = "DRONE_DEPLOY"
	ActionEmergencyNotify ActionType = "EMERGENCY_NOTIFY"

	// Log-only subjects; they appear in action logs but never pass through cooldowns.
	ActionMunicipalityNotify  ActionType = "MUNICIPALITY_NOTIFY"
	ActionSprinklersReenabled ActionType = "SPRINKLERS_REENABLED"
)

// AutomationActions are the relay-backed actions the dispatcher can fire.
var AutomationActions = []ActionType{
	ActionLEDAlertOn, ActionFanOn, ActionPumpOn, ActionSprinklerOn, ActionDroneDeploy, ActionEmergencyNotify,
}

// Automated reports whether the action is cooldown-gated and executed by a relay.
func (a ActionType) Automated() bool {
	switch a {
	case ActionLEDAlertOn, ActionFanOn, ActionPumpOn, ActionSprinklerOn, ActionDroneDeploy, ActionEmergencyNotify:
		return true
	case ActionMunicipalityNotify, ActionSprinklersReenabled:
		return false
	}
	return false
}

func ParseAction(s string) (ActionType, error) {
	a := ActionType(s)
	if !a.Automated() {
		return "", fmt.Errorf("unknown automation action %q", s)
	}
	return a, nil
}

type Outcome string

const (
	OutcomeFired                 Outcome = "FIRED"
	OutcomeSuppressedCooldown    Outcome = "SUPPRESSED_COOLDOWN"
	OutcomeSuppressedUnavailable Outcome = "SUPPRESSED_UNAVAILABLE"
	OutcomePendingRetry          Outcome = "PENDING_RETRY"
	OutcomeRecorded              Outcome = "RECORDED"
)

// ActionLogEntry is one line in an alert's automation history.
type ActionLogEntry struct {
	Action           ActionType `json:"action"`
	Outcome          Outcome    `json:"outcome"`
	At               time.Time  `json:"at"`
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
	Note             string     `json:"note,omitempty"`
}

// Decision is the dispatcher's verdict for one candidate action.
type Decision struct {
	Action           ActionType `json:"action"`
	Fired            bool       `json:"fired"`
	Outcome          Outcome    `json:"outcome"`
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
	Note             string     `json:"note,omitempty"`
}

func (d Decision) LogEntry(at time.Time) ActionLogEntry {
	return ActionLogEntry{
		Action:           d.Action,
		Outcome:          d.Outcome,
		At:               at,
		RemainingSeconds: d.RemainingSeconds,
		Note:             d.Note,
	}
}

// Command is what an ActionExecutor receives for a fired action.
type Command struct {
	Action     ActionType `json:"action"`
	DeviceID   string     `json:"device_id"`
	FacilityID string     `json:"facility_id"`
	Zone       string     `json:"zone,omitempty"`
	AlertID    string     `json:"alert_id"`
	Tier       Tier       `json:"tier"`
	IssuedAt   time.Time  `json:"issued_at"`
}
