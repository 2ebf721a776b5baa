package broker

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// Connect opens an MQTT session that reconnects on its own and resubscribes
// through onConnect.
func Connect(broker, clientID string, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost")
		})
	if onConnect != nil {
		opts.SetOnConnectHandler(onConnect)
	}
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

// Publisher adapts a paho client to the error-returning publish used by the
// relay and the event sink.
type Publisher struct {
	Client mqtt.Client
}

func (p Publisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.Client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe blocks until the broker confirms the subscription.
func Subscribe(client mqtt.Client, topic string, qos byte, handler mqtt.MessageHandler) error {
	if token := client.Subscribe(topic, qos, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// LevelMessage is the payload on safety/tanks/<id>/level.
type LevelMessage struct {
	LevelPct  *float64  `json:"level_pct"`
	Timestamp time.Time `json:"timestamp"`
}

// TankIDFromTopic extracts <id> from a topic shaped like <prefix>/<id>/level.
func TankIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "level" || parts[len(parts)-2] == "" {
		return "", false
	}
	return parts[len(parts)-2], true
}
