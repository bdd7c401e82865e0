package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
)

type runnerFunc func(ctx context.Context, job domain.Job) error

func (f runnerFunc) Run(ctx context.Context, job domain.Job) error { return f(ctx, job) }

func TestJobDispatcher_RoutesByKind(t *testing.T) {
	w := &mockKafkaWriter{}
	d := NewJobDispatcher(newTestProducer(w), "validate", "process")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, d.Dispatch(context.Background(), domain.Job{Kind: domain.JobValidate, UploadID: "up-1", EnqueuedAt: now}))
	require.NoError(t, d.Dispatch(context.Background(), domain.Job{Kind: domain.JobProcess, UploadID: "up-1", EnqueuedAt: now}))
	assert.Error(t, d.Dispatch(context.Background(), domain.Job{Kind: "reindex", UploadID: "up-1"}))

	msgs := w.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "validate", msgs[0].Topic)
	assert.Equal(t, "process", msgs[1].Topic)
	assert.Equal(t, []byte("up-1"), msgs[1].Key)
	assert.Equal(t, now, msgs[0].Time)

	var job domain.Job
	require.NoError(t, json.Unmarshal(msgs[1].Value, &job))
	assert.Equal(t, domain.JobProcess, job.Kind)
}

func TestJobHandler(t *testing.T) {
	var ran []domain.Job
	h := JobHandler(runnerFunc(func(_ context.Context, job domain.Job) error {
		ran = append(ran, job)
		return nil
	}), logging.NewNopLogger())

	value, err := json.Marshal(domain.Job{Kind: domain.JobValidate, UploadID: "up-1", TenantID: "t"})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), &Message{Value: value}))
	require.Len(t, ran, 1)
	assert.Equal(t, "t", ran[0].TenantID)

	var perm *backoff.PermanentError
	err = h(context.Background(), &Message{Value: []byte("{")})
	assert.True(t, errors.As(err, &perm))
	err = h(context.Background(), &Message{Value: []byte(`{"kind":"validate"}`)})
	assert.True(t, errors.As(err, &perm))
	assert.Len(t, ran, 1)
}

func TestEventPublisher(t *testing.T) {
	w := &mockKafkaWriter{}
	p := NewEventPublisher(newTestProducer(w), "events")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := &domain.Upload{ID: "up-1", TenantID: "t", Status: domain.StatusInitiated}
	e := domain.NewEvent(domain.EventCreated, u, now, map[string]interface{}{"file_type": "csv"})

	require.NoError(t, p.Publish(context.Background(), e))
	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "events", msgs[0].Topic)
	assert.Equal(t, []byte("up-1"), msgs[0].Key)

	env, err := MessageToEventEnvelope(fromKafkaMessage(msgs[0]))
	require.NoError(t, err)
	assert.Equal(t, e.ID, env.EventID)
	assert.Equal(t, "upload.created", env.EventType)
	assert.Equal(t, "t", env.Metadata["tenant_id"])

	var decoded domain.Event
	require.NoError(t, env.DecodePayload(&decoded))
	assert.Equal(t, domain.StatusInitiated, decoded.Status)
	assert.Equal(t, "csv", decoded.Payload["file_type"])
}
