package domain

import "time"

// MunicipalityNotice is handed to the municipality notifier when a depletion
// episode starts.
type MunicipalityNotice struct {
	TankID       string       `json:"tank_id"`
	FacilityID   string       `json:"facility_id"`
	Zone         string       `json:"zone"`
	Status       TankStatus   `json:"status"`
	LevelPct     float64      `json:"level_pct"`
	Municipality Municipality `json:"municipality"`
	AlertID      string       `json:"alert_id"`
	At           time.Time    `json:"at"`
}

// PendingDelivery is a failed downstream call left for the external retry worker.
type PendingDelivery struct {
	ID       string     `json:"id" dynamodbav:"deliveryId"`
	AlertID  string     `json:"alert_id" dynamodbav:"alertId"`
	Target   string     `json:"target" dynamodbav:"target"`
	Action   ActionType `json:"action" dynamodbav:"action"`
	DeviceID string     `json:"device_id" dynamodbav:"deviceId"`
	Payload  string     `json:"payload" dynamodbav:"payload"`
	Error    string     `json:"error" dynamodbav:"error"`
	At       time.Time  `json:"at" dynamodbav:"at"`
}
