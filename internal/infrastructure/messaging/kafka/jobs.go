package kafka

import (
	"context"
	"encoding/json"

	"github.com/cenkalti/backoff/v4"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// publisher is the part of *Producer the dispatchers need.
type publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// JobDispatcher enqueues upload passes on the validate and process topics.
type JobDispatcher struct {
	producer      publisher
	validateTopic string
	processTopic  string
}

// NewJobDispatcher routes validate jobs to validateTopic and process jobs
// to processTopic.
func NewJobDispatcher(p publisher, validateTopic, processTopic string) *JobDispatcher {
	return &JobDispatcher{producer: p, validateTopic: validateTopic, processTopic: processTopic}
}

// Dispatch writes job keyed by its upload id.
func (d *JobDispatcher) Dispatch(ctx context.Context, job domain.Job) error {
	topic, err := d.topicFor(job.Kind)
	if err != nil {
		return err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal job")
	}
	return d.producer.Publish(ctx, &Message{
		Topic:     topic,
		Key:       []byte(job.UploadID),
		Value:     value,
		Headers:   map[string]string{HeaderJobKind: string(job.Kind), HeaderSource: SourceService},
		Timestamp: job.EnqueuedAt,
	})
}

func (d *JobDispatcher) topicFor(kind domain.JobKind) (string, error) {
	switch kind {
	case domain.JobValidate:
		return d.validateTopic, nil
	case domain.JobProcess:
		return d.processTopic, nil
	}
	return "", errors.InvalidParam("unknown job kind").WithDetail(string(kind))
}

// JobRunner runs one pass of an upload.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) error
}

// JobHandler decodes jobs and runs them. Undecodable messages are not
// retried. Runs are safe to repeat: a pass whose upload has already moved on
// is a no-op.
func JobHandler(runner JobRunner, log logging.Logger) Handler {
	return func(ctx context.Context, msg *Message) error {
		var job domain.Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			return backoff.Permanent(errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode job"))
		}
		if job.UploadID == "" {
			return backoff.Permanent(errors.InvalidParam("job has no upload id"))
		}
		log.Info("running upload pass",
			logging.UploadID(job.UploadID),
			logging.String("kind", string(job.Kind)),
			logging.Int64("offset", msg.Offset),
		)
		return runner.Run(ctx, job)
	}
}
