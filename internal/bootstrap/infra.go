// Package bootstrap opens the backends named by a Config and assembles the
// upload pipeline on top of them. The API server, the worker and the CLI
// share it.
package bootstrap

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/turtacn/molingest/internal/application/upload"
	"github.com/turtacn/molingest/internal/config"
	"github.com/turtacn/molingest/internal/domain/molecule"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/cache"
	"github.com/turtacn/molingest/internal/infrastructure/database/memory"
	"github.com/turtacn/molingest/internal/infrastructure/database/postgres"
	"github.com/turtacn/molingest/internal/infrastructure/database/postgres/repositories"
	redisinfra "github.com/turtacn/molingest/internal/infrastructure/database/redis"
	"github.com/turtacn/molingest/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molingest/internal/infrastructure/search/milvus"
	"github.com/turtacn/molingest/internal/infrastructure/storage/local"
	minioinfra "github.com/turtacn/molingest/internal/infrastructure/storage/minio"
	"github.com/turtacn/molingest/internal/intelligence/chemistry"
	"github.com/turtacn/molingest/pkg/errors"
)

const (
	DispatchKafka  = "kafka"
	DispatchInline = "inline"
	// DispatchSync runs each pass inside the call that dispatches it. Only
	// local dry runs use it.
	DispatchSync = "sync"

	startupTimeout = 30 * time.Second
)

// Infra holds the opened backends. Fields for backends the configuration
// does not select stay nil.
type Infra struct {
	Config         *config.Config
	Logger         logging.Logger
	Metrics        *prometheus.AppMetrics
	MetricsHandler http.Handler

	DB       *postgres.Connection
	Redis    *redisinfra.Client
	MinIO    *minioinfra.Client
	Milvus   *milvus.Client
	Producer *kafka.Producer

	Cache      cache.Cache
	Files      upload.FileStorage
	Uploads    domain.Repository
	Molecules  molecule.Store
	Normalizer molecule.Normalizer
	Indexes    upload.IndexProvider
	Events     domain.EventPublisher

	// FingerprintIndex is set for the milvus index backend only.
	FingerprintIndex *milvus.FingerprintIndex

	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

// Open connects every backend cfg selects. On error whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg *config.Config, log logging.Logger) (inf *Infra, err error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	inf = &Infra{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			inf.Close()
			inf = nil
		}
	}()

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, log.Named("metrics"))
	if err != nil {
		return inf, err
	}
	inf.Metrics = prometheus.NewAppMetrics(collector)
	inf.MetricsHandler = collector.Handler()

	if err = inf.openDatabase(cfg.Database, log); err != nil {
		return inf, err
	}

	if cfg.Cache.Backend == "redis" {
		rc, rerr := redisinfra.NewClient(cfg.Redis, log)
		if rerr != nil {
			return inf, rerr
		}
		inf.Redis = rc
		inf.addCloser("redis", rc.Close)
	}
	if inf.Cache, err = NewCache(cfg.Cache, inf.Redis, inf.Metrics, log); err != nil {
		return inf, err
	}

	if err = inf.openStorage(ctx, cfg, log); err != nil {
		return inf, err
	}

	if inf.Normalizer, err = chemistry.New(cfg.Chemistry, inf.Cache, inf.Metrics, log.Named("chemistry")); err != nil {
		return inf, errors.Wrap(err, errors.CodeInvalidParam, "failed to build chemistry engine")
	}

	if err = inf.openIndex(ctx, cfg, log); err != nil {
		return inf, err
	}

	if err = inf.openMessaging(ctx, cfg.Kafka, cfg.Upload.Dispatch, log); err != nil {
		return inf, err
	}

	log.Info("infrastructure ready",
		logging.String("storage", cfg.Storage.Backend),
		logging.String("cache", cfg.Cache.Backend),
		logging.String("index", cfg.Index.Backend),
		logging.String("dispatch", cfg.Upload.Dispatch),
		logging.String("chemistry", inf.Normalizer.Engine()),
	)
	return inf, nil
}

// OpenLocal builds an Infra over in-memory adapters for dry runs. The
// configured chemistry engine is used; everything else stays in the process
// and is gone when it exits.
func OpenLocal(cfg *config.Config, log logging.Logger) (*Infra, error) {
	fpType, err := molecule.ParseFingerprintType(cfg.Index.FingerprintType)
	if err != nil {
		return nil, err
	}
	c := cache.NewMemoryCache(cfg.Cache.MemorySize, cfg.Cache.DefaultTTL)
	n, err := chemistry.New(cfg.Chemistry, c, nil, log.Named("chemistry"))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidParam, "failed to build chemistry engine")
	}
	store := memory.NewMoleculeStore()
	return &Infra{
		Config:     cfg,
		Logger:     log,
		Cache:      c,
		Files:      local.NewFileStoreWithFs(afero.NewMemMapFs(), log),
		Uploads:    memory.NewUploadRepository(),
		Molecules:  store,
		Normalizer: n,
		Indexes:    upload.SharedIndex(upload.NewStoreIndex(store, fpType)),
		Events:     domain.NopPublisher{},
	}, nil
}

func (i *Infra) openDatabase(cfg config.DatabaseConfig, log logging.Logger) error {
	conn, err := postgres.NewConnection(cfg, log.Named("postgres"))
	if err != nil {
		return err
	}
	i.DB = conn
	i.addCloser("postgres", conn.Close)

	if cfg.AutoMigrate {
		if err := Migrate(conn, log); err != nil {
			return err
		}
	}
	i.Uploads = repositories.NewUploadRepository(conn, log)
	i.Molecules = repositories.NewMoleculeStore(conn, log)
	return nil
}

// Migrate applies the embedded schema to conn.
func Migrate(conn *postgres.Connection, log logging.Logger) error {
	m, err := postgres.NewMigrator(conn.DB(), log.Named("migrate"))
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

func (i *Infra) openStorage(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	switch cfg.Storage.Backend {
	case "minio":
		mc, err := minioinfra.NewClient(cfg.MinIO, log.Named("minio"))
		if err != nil {
			return err
		}
		i.MinIO = mc
		i.addCloser("minio", mc.Close)
		if err := mc.EnsureBucket(ctx); err != nil {
			return err
		}
		mc.SetupLifecycleRules(ctx)
		i.Files = minioinfra.NewFileStore(mc, log)
		return nil
	default:
		fs, err := NewLocalStorage(cfg.Storage, log)
		if err != nil {
			return err
		}
		i.Files = fs
		return nil
	}
}

// NewLocalStorage opens the local file store under cfg.LocalRoot.
func NewLocalStorage(cfg config.StorageConfig, log logging.Logger) (*local.FileStore, error) {
	if cfg.Backend != "" && cfg.Backend != "local" {
		return nil, errors.ErrInvalidConfig.WithDetail("storage backend is not local: " + cfg.Backend)
	}
	return local.NewFileStore(cfg.LocalRoot, log.Named("local_storage"))
}

// NewCache builds the cache port for cfg. rc is required for the redis
// backend. Hits and misses are reported to obs when it is non-nil.
func NewCache(cfg config.CacheConfig, rc *redisinfra.Client, obs cache.Observer, log logging.Logger) (cache.Cache, error) {
	var c cache.Cache
	switch cfg.Backend {
	case "redis":
		if rc == nil {
			return nil, errors.ErrInvalidConfig.WithDetail("redis cache backend needs a redis client")
		}
		c = redisinfra.NewCache(rc, log.Named("redis_cache"), redisinfra.WithDefaultTTL(cfg.DefaultTTL))
	case "memory", "":
		c = cache.NewMemoryCache(cfg.MemorySize, cfg.DefaultTTL)
	default:
		return nil, errors.ErrInvalidConfig.WithDetail("unknown cache backend: " + cfg.Backend)
	}
	if obs == nil {
		return c, nil
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}
	return cache.Instrumented(c, backend, obs), nil
}

func (i *Infra) openIndex(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	if cfg.Index.Backend != "milvus" {
		idx, err := NewIndexProvider(cfg, i.Molecules, i.Cache, log)
		if err != nil {
			return err
		}
		i.Indexes = idx
		return nil
	}

	fpType, err := molecule.ParseFingerprintType(cfg.Index.FingerprintType)
	if err != nil {
		return err
	}
	mc, err := milvus.NewClient(cfg.Milvus, log.Named("milvus"))
	if err != nil {
		return err
	}
	i.Milvus = mc
	i.addCloser("milvus", mc.Close)

	dim := molecule.FingerprintParams{}.WithDefaults(fpType).NumBits
	spec := milvus.CollectionSpec{
		Name:      cfg.Milvus.Collection,
		Dim:       dim,
		IndexType: cfg.Milvus.IndexType,
		NList:     cfg.Milvus.NList,
	}
	if err := milvus.EnsureCollection(ctx, mc, spec, log); err != nil {
		return err
	}
	idx := milvus.NewFingerprintIndex(mc, spec.Name, fpType, dim, log.Named("milvus_index"),
		milvus.WithIndexType(cfg.Milvus.IndexType),
		milvus.WithNProbe(cfg.Milvus.NProbe),
	)
	i.FingerprintIndex = idx
	i.Indexes = upload.SharedIndex(idx)
	return nil
}

// NewIndexProvider builds the in-process similarity index for the
// "bruteforce" and "store" backends.
func NewIndexProvider(cfg *config.Config, store molecule.Store, c cache.Cache, log logging.Logger) (upload.IndexProvider, error) {
	fpType, err := molecule.ParseFingerprintType(cfg.Index.FingerprintType)
	if err != nil {
		return nil, err
	}
	switch cfg.Index.Backend {
	case "store":
		return upload.SharedIndex(upload.NewStoreIndex(store, fpType)), nil
	case "bruteforce", "":
		opts := []upload.SnapshotOption{upload.WithSnapshotPageSize(cfg.Index.SnapshotPageSize)}
		if c != nil {
			opts = append(opts, upload.WithSnapshotCache(c, cfg.Cache.DefaultTTL))
		}
		return upload.NewSnapshotLoader(store, fpType, log.Named("snapshot"), opts...), nil
	default:
		return nil, errors.ErrInvalidConfig.WithDetail("unknown index backend: " + cfg.Index.Backend)
	}
}

func (i *Infra) openMessaging(ctx context.Context, cfg config.KafkaConfig, dispatch string, log logging.Logger) error {
	if dispatch != DispatchKafka {
		i.Events = domain.NopPublisher{}
		return nil
	}

	if cfg.AutoCreateTopics {
		tm, err := kafka.NewTopicManager(cfg.Brokers, log)
		if err != nil {
			return err
		}
		err = tm.EnsureTopics(ctx, kafka.PipelineTopics(cfg))
		_ = tm.Close()
		if err != nil {
			return err
		}
	}

	p, err := kafka.NewProducer(cfg, log)
	if err != nil {
		return err
	}
	i.Producer = p
	i.addCloser("kafka_producer", p.Close)
	i.Events = kafka.NewEventPublisher(p, cfg.EventsTopic)
	return nil
}

func (i *Infra) addCloser(name string, fn func() error) {
	i.closers = append(i.closers, namedCloser{name: name, fn: fn})
}

// Close releases the backends in reverse opening order.
func (i *Infra) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		c := i.closers[n]
		if err := c.fn(); err != nil {
			i.Logger.Warn("failed to close backend", logging.String("backend", c.name), logging.Err(err))
		}
	}
	i.closers = nil
}
