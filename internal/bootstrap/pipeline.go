package bootstrap

import (
	"context"
	"time"

	"github.com/turtacn/molingest/internal/application/upload"
	"github.com/turtacn/molingest/internal/domain/molecule"
	"github.com/turtacn/molingest/internal/infrastructure/database/redis"
	"github.com/turtacn/molingest/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

const (
	sweeperLockName = "upload-sweeper"
	sweeperLockTTL  = 5 * time.Minute
)

// Pipeline is the assembled upload application layer.
type Pipeline struct {
	Service    *upload.Service
	Processor  *upload.Processor
	Dispatcher upload.Dispatcher

	inline *upload.InlineDispatcher
}

// Wait blocks until jobs handed to an inline dispatcher have finished. It
// returns at once when jobs go to Kafka.
func (p *Pipeline) Wait() {
	if p.inline != nil {
		p.inline.Wait()
	}
}

// NewProcessor builds the processor that runs both passes.
func (i *Infra) NewProcessor() *upload.Processor {
	cfg := i.Config.Upload
	return upload.NewProcessor(upload.ProcessorDeps{
		Repo:       i.Uploads,
		Store:      i.Molecules,
		Files:      i.Files,
		Normalizer: i.Normalizer,
		Indexes:    i.Indexes,
		Events:     i.Events,
		Observer:   i.observer(),
		Logger:     i.Logger,
	}, upload.ProcessorConfig{
		ChunkSize:          cfg.ChunkSize,
		MaxRows:            cfg.MaxRows,
		RawValueLimit:      cfg.RawValueLimit,
		ProgressFlushEvery: cfg.ProgressFlushEvery,
		FailureThreshold:   cfg.FailureThreshold,
		Validator: upload.ValidatorConfig{
			MaxStructureLength: cfg.MaxStructureLength,
			MaxHeavyAtoms:      cfg.MaxHeavyAtoms,
		},
		SimilarityFingerprint: molecule.FingerprintType(i.Config.Index.FingerprintType),
	})
}

// NewPipeline wires the service to the configured dispatcher. Inline jobs
// run on ctx, so cancelling it stops them.
func (i *Infra) NewPipeline(ctx context.Context) (*Pipeline, error) {
	p := &Pipeline{Processor: i.NewProcessor()}

	switch i.Config.Upload.Dispatch {
	case DispatchKafka:
		if i.Producer == nil {
			return nil, errors.ErrInvalidConfig.WithDetail("kafka dispatch needs a producer")
		}
		p.Dispatcher = kafka.NewJobDispatcher(i.Producer, i.Config.Kafka.ValidateTopic, i.Config.Kafka.ProcessTopic)
	case DispatchSync:
		p.Dispatcher = upload.SyncDispatcher{Runner: p.Processor, Logger: i.Logger}
	case DispatchInline, "":
		p.inline = upload.NewInlineDispatcher(ctx, p.Processor, i.Config.Worker.Concurrency, i.Logger)
		p.Dispatcher = p.inline
	default:
		return nil, errors.ErrInvalidConfig.WithDetail("unknown dispatch mode: " + i.Config.Upload.Dispatch)
	}

	cfg := i.Config.Upload
	p.Service = upload.NewService(upload.ServiceDeps{
		Repo:       i.Uploads,
		Files:      i.Files,
		Dispatcher: p.Dispatcher,
		Events:     i.Events,
		Observer:   i.observer(),
		Logger:     i.Logger,
	}, upload.ServiceConfig{
		MaxFileSize:                cfg.MaxFileSize,
		DefaultSimilarityThreshold: cfg.DefaultSimilarityThreshold,
		ExpiryTTL:                  cfg.ExpiryTTL,
	})
	return p, nil
}

// NewSweeper builds the expiry sweeper. With Redis available the sweep is
// guarded by a distributed lock.
func (i *Infra) NewSweeper() *upload.Sweeper {
	deps := upload.SweeperDeps{
		Repo:     i.Uploads,
		Files:    i.Files,
		Events:   i.Events,
		Observer: i.observer(),
		Logger:   i.Logger,
	}
	if i.Redis != nil {
		deps.Lock = redis.NewMutex(i.Redis, sweeperLockName, i.Logger.Named("lock"), redis.WithLockTTL(sweeperLockTTL))
	}
	return upload.NewSweeper(deps, upload.SweeperConfig{Interval: i.Config.Upload.SweepInterval})
}

// NewJobConsumer subscribes runner to the validate and process topics.
func (i *Infra) NewJobConsumer(runner kafka.JobRunner) (*kafka.Consumer, error) {
	kc := i.Config.Kafka
	w := i.Config.Worker
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: kc.Brokers,
		GroupID: kc.GroupID,
		Topics:  []string{kc.ValidateTopic, kc.ProcessTopic},
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      w.MaxRetries,
			RetryBackoff:    w.RetryBackoff,
			DeadLetterTopic: kc.DeadLetterTopic,
		},
	}, i.Producer, i.Logger)
	if err != nil {
		return nil, err
	}
	if i.Metrics != nil {
		consumer.SetObserver(i.Metrics)
	}
	handler := kafka.JobHandler(runner, i.Logger.Named("jobs"))
	consumer.Subscribe(kc.ValidateTopic, handler)
	consumer.Subscribe(kc.ProcessTopic, handler)
	return consumer, nil
}

// observer keeps a nil *AppMetrics from turning into a non-nil interface.
func (i *Infra) observer() upload.Observer {
	if i.Metrics == nil {
		return upload.NopObserver{}
	}
	return i.Metrics
}

// LogStartup records the effective limits once per process.
func (i *Infra) LogStartup(component string) {
	u := i.Config.Upload
	i.Logger.Info(component+" configured",
		logging.Int64("max_file_size", u.MaxFileSize),
		logging.Int("max_rows", u.MaxRows),
		logging.Int("chunk_size", u.ChunkSize),
		logging.Float64("failure_threshold", u.FailureThreshold),
		logging.Float64("default_similarity_threshold", u.DefaultSimilarityThreshold),
		logging.Duration("expiry_ttl", u.ExpiryTTL),
	)
}
