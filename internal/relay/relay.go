package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ANIKETSHETTY47/environmental-safety-engine/internal/domain"
)

// Publisher is the slice of an MQTT client the relay needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Message is what a device relay controller receives.
type Message struct {
	Action    domain.ActionType `json:"action"`
	State     string            `json:"state"`
	AlertID   string            `json:"alert_id"`
	Severity  domain.Tier       `json:"severity"`
	Zone      string            `json:"zone,omitempty"`
	IssuedAt  time.Time         `json:"issued_at"`
	Automated bool              `json:"automated"`
}

// MQTTExecutor switches device relays by publishing to <prefix>/<device>/relay.
type MQTTExecutor struct {
	pub    Publisher
	prefix string
}

func NewMQTTExecutor(pub Publisher, prefix string) *MQTTExecutor {
	return &MQTTExecutor{pub: pub, prefix: strings.TrimSuffix(prefix, "/")}
}

func (e *MQTTExecutor) Topic(deviceID string) string {
	return fmt.Sprintf("%s/%s/relay", e.prefix, deviceID)
}

func (e *MQTTExecutor) Execute(ctx context.Context, cmd domain.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(Message{
		Action:    cmd.Action,
		State:     "ON",
		AlertID:   cmd.AlertID,
		Severity:  cmd.Tier,
		Zone:      cmd.Zone,
		IssuedAt:  cmd.IssuedAt,
		Automated: true,
	})
	if err != nil {
		return fmt.Errorf("marshal relay command: %w", err)
	}
	return e.pub.Publish(e.Topic(cmd.DeviceID), 1, false, payload)
}

// Executor mirrors the engine's action executor contract.
type Executor interface {
	Execute(ctx context.Context, cmd domain.Command) error
}

// Router sends each action to its registered executor and everything else to
// the fallback.
type Router struct {
	routes   map[domain.ActionType]Executor
	fallback Executor
}

func NewRouter(fallback Executor) *Router {
	return &Router{routes: make(map[domain.ActionType]Executor), fallback: fallback}
}

// Route registers ex for the given actions. A nil executor is ignored.
func (r *Router) Route(ex Executor, actions ...domain.ActionType) *Router {
	if ex == nil {
		return r
	}
	for _, a := range actions {
		r.routes[a] = ex
	}
	return r
}

func (r *Router) Execute(ctx context.Context, cmd domain.Command) error {
	if ex, ok := r.routes[cmd.Action]; ok {
		return ex.Execute(ctx, cmd)
	}
	if r.fallback == nil {
		return fmt.Errorf("no executor for action %s", cmd.Action)
	}
	return r.fallback.Execute(ctx, cmd)
}
