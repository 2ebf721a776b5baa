package domain

type UpdateKind string

const (
	UpdateOpened       UpdateKind = "OPENED"
	UpdateEscalated    UpdateKind = "ESCALATED"
	UpdateRefreshed    UpdateKind = "UPDATED"
	UpdateAcknowledged UpdateKind = "ACKNOWLEDGED"
	UpdateResolved     UpdateKind = "RESOLVED"
	UpdateActionLogged UpdateKind = "ACTION_LOGGED"
)

// AlertUpdate describes one change to one alert.
type AlertUpdate struct {
	Kind      UpdateKind `json:"kind"`
	Alert     Alert      `json:"alert"`
	Decisions []Decision `json:"decisions,omitempty"`
}

// Fired lists the actions that fired with this update.
func (u AlertUpdate) Fired() []ActionType {
	var out []ActionType
	for _, d := range u.Decisions {
		if d.Fired {
			out = append(out, d.Action)
		}
	}
	return out
}

// IngestResult is returned by IngestReading. Updates is empty when every
// dimension classified as GOOD and no alert was touched.
type IngestResult struct {
	Reading SensorReading  `json:"reading"`
	Updates []AlertUpdate  `json:"updates,omitempty"`
	Cascade *CascadeUpdate `json:"cascade,omitempty"`
}

type CascadeUpdate struct {
	Tank                 WaterTank     `json:"tank"`
	Previous             TankStatus    `json:"previous"`
	Current              TankStatus    `json:"current"`
	MunicipalityNotified bool          `json:"municipality_notified"`
	SprinklersDisabled   bool          `json:"sprinklers_disabled"`
	SprinklersReenabled  bool          `json:"sprinklers_reenabled"`
	Alerts               []AlertUpdate `json:"alerts,omitempty"`
}

// Changed reports whether the update moved the tank between statuses.
func (c CascadeUpdate) Changed() bool { return c.Previous != c.Current }
