package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/internal/config"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
)

type mockConn struct {
	created    []kafka.TopicConfig
	createErr  error
	partitions map[string][]kafka.Partition
}

func (m *mockConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, topics...)
	return nil
}

func (m *mockConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	var out []kafka.Partition
	for _, t := range topics {
		out = append(out, m.partitions[t]...)
	}
	return out, nil
}

func (m *mockConn) Close() error { return nil }

func TestEventEnvelope_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := NewEventEnvelope("upload.created", map[string]int{"rows": 3}, now)
	require.NoError(t, err)

	msg, err := env.ToMessage("events", "up-1")
	require.NoError(t, err)
	assert.Equal(t, "upload.created", msg.Headers[HeaderEventType])
	assert.Equal(t, []byte("up-1"), msg.Key)

	back, err := MessageToEventEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, back.EventID)
	assert.Equal(t, SchemaVersion, back.SchemaVersion)

	var payload map[string]int
	require.NoError(t, back.DecodePayload(&payload))
	assert.Equal(t, 3, payload["rows"])

	_, err = MessageToEventEnvelope(&Message{})
	assert.Error(t, err)
}

func TestTopicManager_EnsureTopics(t *testing.T) {
	conn := &mockConn{}
	m := NewTopicManagerWithConn(conn, logging.NewNopLogger())
	cfg := config.KafkaConfig{
		ValidateTopic: "v", ProcessTopic: "p", EventsTopic: "e", DeadLetterTopic: "d",
		NumPartitions: 3, ReplicationFactor: 1,
	}

	require.NoError(t, m.EnsureTopics(context.Background(), PipelineTopics(cfg)))
	require.Len(t, conn.created, 4)
	assert.Equal(t, "v", conn.created[0].Topic)
	assert.Equal(t, 3, conn.created[0].NumPartitions)
	assert.Equal(t, 1, conn.created[3].NumPartitions)
	assert.Equal(t, "retention.ms", conn.created[0].ConfigEntries[0].ConfigName)
}

func TestTopicManager_ExistingTopic(t *testing.T) {
	conn := &mockConn{createErr: kafka.TopicAlreadyExists}
	m := NewTopicManagerWithConn(conn, logging.NewNopLogger())
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "v", NumPartitions: 1, ReplicationFactor: 1}))

	conn = &mockConn{
		createErr:  errors.New("controller moved"),
		partitions: map[string][]kafka.Partition{"v": {{Topic: "v"}}},
	}
	m = NewTopicManagerWithConn(conn, logging.NewNopLogger())
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "v", NumPartitions: 1, ReplicationFactor: 1}))

	conn.partitions = nil
	assert.Error(t, m.CreateTopic(context.Background(), TopicConfig{Name: "v", NumPartitions: 1, ReplicationFactor: 1}))
}

func TestTopicManager_InvalidConfig(t *testing.T) {
	m := NewTopicManagerWithConn(&mockConn{}, logging.NewNopLogger())
	assert.Error(t, m.CreateTopic(context.Background(), TopicConfig{}))
	assert.Error(t, m.CreateTopic(context.Background(), TopicConfig{Name: "x"}))
}
