package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (f *fakePublisher) Publish(topic string, qos byte, _ bool, payload []byte) error {
	f.calls = append(f.calls, publishCall{topic: topic, qos: qos, payload: payload})
	return f.err
}

func TestMQTTSink_Topics(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, "safety/events/")

	require.NoError(t, s.Send(context.Background(), alertEvent("ESP32_001")))
	require.NoError(t, s.Send(context.Background(), cascadeEvent("TANK_001")))

	require.Len(t, pub.calls, 2)
	assert.Equal(t, "safety/events/alerts/ESP32_001", pub.calls[0].topic)
	assert.Equal(t, "safety/events/tanks/TANK_001", pub.calls[1].topic)
	assert.Equal(t, byte(1), pub.calls[0].qos)

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.calls[0].payload, &decoded))
	require.NotNil(t, decoded.Alert)
	assert.Equal(t, "alert-1", decoded.Alert.Alert.ID)
}

type fakeRedis struct {
	channel string
	message interface{}
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message = message
	return redis.NewIntResult(1, f.err)
}

func TestRedisSink_Send(t *testing.T) {
	fake := &fakeRedis{}
	s := &RedisSink{client: fake, channel: "safety:events"}

	require.NoError(t, s.Send(context.Background(), alertEvent("ESP32_001")))
	assert.Equal(t, "safety:events", fake.channel)
	assert.Contains(t, string(fake.message.([]byte)), `"type":"alert"`)

	fake.err = errors.New("connection refused")
	err := s.Send(context.Background(), alertEvent("ESP32_001"))
	assert.ErrorContains(t, err, "safety:events")
}

type fakeKafka struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func TestKafkaSink_KeysByDevice(t *testing.T) {
	w := &fakeKafka{}
	s := NewKafkaSink(w)
	e := cascadeEvent("TANK_001")

	require.NoError(t, s.Send(context.Background(), e))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "TANK_001", string(msg.Key))
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "cascade", string(msg.Headers[0].Value))
	assert.Equal(t, e.ID, string(msg.Headers[1].Value))

	w.err = errors.New("leader not available")
	assert.Error(t, s.Send(context.Background(), e))
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "safety.events")
	assert.Equal(t, "safety.events", w.Topic)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
}
