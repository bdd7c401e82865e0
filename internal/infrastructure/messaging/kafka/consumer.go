package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")
	ErrNoTopics       = errors.New(errors.ErrCodeValidation, "consumer needs at least one topic")
)

const fetchErrorPause = time.Second

// Handler processes one message. Returning backoff.Permanent(err) skips the
// remaining retries.
type Handler func(ctx context.Context, msg *Message) error

// RetryConfig defines handler retry behavior.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topics      []string
	RetryConfig RetryConfig
}

// ConsumerMetrics counts what the consumer handled.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
}

// MessageObserver is told how each message was settled: "ok" or "failed".
type MessageObserver interface {
	MessageProcessed(topic, outcome string)
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads a consumer group and hands each message to the handler of
// its topic. Offsets are committed after the handler succeeds or the message
// is dead-lettered, so a crash mid-handler redelivers the message.
type Consumer struct {
	reader     ReaderInterface
	config     ConsumerConfig
	deadLetter *Producer
	observer   MessageObserver
	logger     logging.Logger

	handlers map[string]Handler
	mu       sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metrics ConsumerMetrics
}

// NewConsumer joins cfg.GroupID on cfg.Topics. deadLetter may be nil, in
// which case exhausted messages are logged and skipped.
func NewConsumer(cfg ConsumerConfig, deadLetter *Producer, log logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       1,
		MaxBytes:       10 * 1024 * 1024,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		SessionTimeout: 30 * time.Second,
		Dialer:         &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
	})
	return NewConsumerWithReader(reader, cfg, deadLetter, log), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r ReaderInterface, cfg ConsumerConfig, deadLetter *Producer, log logging.Logger) *Consumer {
	return &Consumer{
		reader:     r,
		config:     cfg,
		deadLetter: deadLetter,
		logger:     log.Named("kafka_consumer"),
		handlers:   make(map[string]Handler),
	}
}

// SetObserver must be called before Start.
func (c *Consumer) SetObserver(obs MessageObserver) {
	c.observer = obs
}

// Subscribe registers h for topic, replacing any earlier handler.
func (c *Consumer) Subscribe(topic string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = h
	c.logger.Info("Subscribed to topic", logging.String("topic", topic))
}

// Start runs the consume loop in the background until Close or ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx)
	}()
	c.logger.Info("Kafka consumer started", logging.String("group", c.config.GroupID))
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for ctx.Err() == nil {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("FetchMessage error", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchErrorPause):
			}
			continue
		}
		c.metrics.MessagesConsumed.Add(1)

		c.mu.RLock()
		handler, ok := c.handlers[m.Topic]
		c.mu.RUnlock()

		if !ok {
			c.logger.Warn("No handler for topic", logging.String("topic", m.Topic))
			c.commit(ctx, m)
			continue
		}

		if err := c.processMessage(ctx, fromKafkaMessage(m), handler); err != nil {
			// interrupted by shutdown; leave the offset for redelivery
			return
		}
		c.commit(ctx, m)
	}
}

// processMessage returns an error only when ctx ended before the message
// was settled.
func (c *Consumer) processMessage(ctx context.Context, msg *Message, handler Handler) error {
	err := backoff.RetryNotify(
		func() error { return handler(ctx, msg) },
		backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries())), ctx),
		func(err error, wait time.Duration) {
			c.metrics.MessagesRetried.Add(1)
			c.logger.Warn("Message handler failed, retrying",
				logging.String("topic", msg.Topic),
				logging.Int64("offset", msg.Offset),
				logging.Duration("wait", wait),
				logging.Err(err))
		},
	)
	if err == nil {
		c.metrics.MessagesProcessed.Add(1)
		c.observe(msg.Topic, "ok")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.metrics.MessagesFailed.Add(1)
	c.observe(msg.Topic, "failed")
	c.logger.Error("Message processing failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Err(err))
	c.sendToDeadLetter(ctx, msg, err)
	return nil
}

func (c *Consumer) observe(topic, outcome string) {
	if c.observer != nil {
		c.observer.MessageProcessed(topic, outcome)
	}
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg *Message, cause error) {
	topic := c.config.RetryConfig.DeadLetterTopic
	if c.deadLetter == nil || topic == "" {
		return
	}
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["original_topic"] = msg.Topic
	headers["error_message"] = cause.Error()

	dl := &Message{Topic: topic, Key: msg.Key, Value: msg.Value, Headers: headers}
	if err := c.deadLetter.Publish(ctx, dl); err != nil {
		c.logger.Error("Failed to send to dead letter queue", logging.Err(err))
		return
	}
	c.metrics.MessagesDeadLettered.Add(1)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.logger.Error("CommitMessages failed", logging.Err(err))
	}
}

func (c *Consumer) maxRetries() int {
	if c.config.RetryConfig.MaxRetries > 0 {
		return c.config.RetryConfig.MaxRetries
	}
	return 3
}

func (c *Consumer) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if c.config.RetryConfig.RetryBackoff > 0 {
		b.InitialInterval = c.config.RetryConfig.RetryBackoff
	}
	b.MaxInterval = 30 * time.Second
	if c.config.RetryConfig.MaxRetryBackoff > 0 {
		b.MaxInterval = c.config.RetryConfig.MaxRetryBackoff
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Processed returns the number of messages handled successfully.
func (c *Consumer) Processed() int64 { return c.metrics.MessagesProcessed.Load() }

// DeadLettered returns the number of messages moved to the dead letter topic.
func (c *Consumer) DeadLettered() int64 { return c.metrics.MessagesDeadLettered.Load() }

// Close stops the loop, waits for the in-flight message and closes the reader.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	err := c.reader.Close()
	c.logger.Info("Kafka consumer closed",
		logging.Int64("consumed", c.metrics.MessagesConsumed.Load()))
	return err
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "group id required")
	}
	if len(cfg.Topics) == 0 {
		return ErrNoTopics
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "max retries must be >= 0")
	}
	return nil
}
