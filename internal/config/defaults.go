package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultHTTPPort        = 8080
	DefaultGRPCPort        = 9090
	DefaultShutdownTimeout = 30 * time.Second
	DefaultTenantHeader    = "X-Tenant-ID"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBUser     = "molingest"
	DefaultDBName     = "molingest"
	DefaultDBMaxConns = 25

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "molingest:"

	DefaultKafkaBroker     = "localhost:9092"
	DefaultKafkaGroupID    = "molingest-workers"
	DefaultValidateTopic   = "molingest.upload.validate"
	DefaultProcessTopic    = "molingest.upload.process"
	DefaultEventsTopic     = "molingest.upload.events"
	DefaultDeadLetterTopic = "molingest.upload.dlq"

	DefaultStorageBackend = "local"
	DefaultLocalRoot      = "./data/uploads"
	DefaultMinIOBucket    = "molingest-uploads"

	DefaultChemistryEngine = "builtin"

	DefaultMaxFileSize         = 100 << 20
	DefaultMaxRows             = 100000
	DefaultChunkSize           = 100
	DefaultRawValueLimit       = 100
	DefaultMaxStructureLength  = 2000
	DefaultMaxHeavyAtoms       = 1000
	DefaultFailureThreshold    = 0.5
	DefaultSimilarityThreshold = 0.85
	DefaultProgressFlushEvery  = 100
	DefaultExpiryTTL           = 24 * time.Hour
	DefaultSweepInterval       = 10 * time.Minute
	DefaultDispatch            = "inline"
	DefaultCacheBackend        = "memory"
	DefaultCacheTTL            = time.Hour
	DefaultCacheMemorySize     = 10000
	DefaultIndexBackend        = "bruteforce"
	DefaultFingerprintType     = "morgan"
	DefaultSnapshotPageSize    = 1000
	DefaultMilvusAddr          = "localhost:19530"
	DefaultMilvusCollection    = "molecule_fingerprints"
	DefaultMilvusIndexType     = "BIN_FLAT"
	DefaultWorkerConcurrency   = 4
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultMetricsNamespace    = "molingest"
	DefaultMetricsPath         = "/metrics"
)

// ApplyDefaults fills every zero-value field in cfg. Values already set are
// left unchanged so explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.HTTP.Port == 0 {
		cfg.Server.HTTP.Port = DefaultHTTPPort
	}
	if cfg.Server.HTTP.ReadTimeout == 0 {
		cfg.Server.HTTP.ReadTimeout = 60 * time.Second
	}
	if cfg.Server.HTTP.WriteTimeout == 0 {
		cfg.Server.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.HTTP.ShutdownTimeout == 0 {
		cfg.Server.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.HTTP.TenantHeader == "" {
		cfg.Server.HTTP.TenantHeader = DefaultTenantHeader
	}
	if cfg.Server.GRPC.Port == 0 {
		cfg.Server.GRPC.Port = DefaultGRPCPort
	}
	if cfg.Server.GRPC.ProbeInterval == 0 {
		cfg.Server.GRPC.ProbeInterval = 10 * time.Second
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgx"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = DefaultDBUser
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30 * time.Minute
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.ValidateTopic == "" {
		cfg.Kafka.ValidateTopic = DefaultValidateTopic
	}
	if cfg.Kafka.ProcessTopic == "" {
		cfg.Kafka.ProcessTopic = DefaultProcessTopic
	}
	if cfg.Kafka.EventsTopic == "" {
		cfg.Kafka.EventsTopic = DefaultEventsTopic
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = DefaultDeadLetterTopic
	}
	if cfg.Kafka.NumPartitions == 0 {
		cfg.Kafka.NumPartitions = 3
	}
	if cfg.Kafka.ReplicationFactor == 0 {
		cfg.Kafka.ReplicationFactor = 1
	}
	if cfg.Kafka.WriteTimeout == 0 {
		cfg.Kafka.WriteTimeout = 10 * time.Second
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.LocalRoot == "" {
		cfg.Storage.LocalRoot = DefaultLocalRoot
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Chemistry ─────────────────────────────────────────────────────────────
	if cfg.Chemistry.Engine == "" {
		cfg.Chemistry.Engine = DefaultChemistryEngine
	}
	if cfg.Chemistry.Timeout == 0 {
		cfg.Chemistry.Timeout = 10 * time.Second
	}
	if cfg.Chemistry.RetryMax == 0 {
		cfg.Chemistry.RetryMax = 3
	}
	if cfg.Chemistry.CacheTTL == 0 {
		cfg.Chemistry.CacheTTL = 6 * time.Hour
	}

	// ── Upload ────────────────────────────────────────────────────────────────
	u := &cfg.Upload
	if u.MaxFileSize == 0 {
		u.MaxFileSize = DefaultMaxFileSize
	}
	if u.MaxRows == 0 {
		u.MaxRows = DefaultMaxRows
	}
	if u.ChunkSize == 0 {
		u.ChunkSize = DefaultChunkSize
	}
	if u.RawValueLimit == 0 {
		u.RawValueLimit = DefaultRawValueLimit
	}
	if u.MaxStructureLength == 0 {
		u.MaxStructureLength = DefaultMaxStructureLength
	}
	if u.MaxHeavyAtoms == 0 {
		u.MaxHeavyAtoms = DefaultMaxHeavyAtoms
	}
	// A zero failure threshold would fail any upload with a single bad row;
	// an explicit 0 is indistinguishable from unset here.
	if u.FailureThreshold == 0 {
		u.FailureThreshold = DefaultFailureThreshold
	}
	if u.DefaultSimilarityThreshold == 0 {
		u.DefaultSimilarityThreshold = DefaultSimilarityThreshold
	}
	if u.ProgressFlushEvery == 0 {
		u.ProgressFlushEvery = DefaultProgressFlushEvery
	}
	if u.ExpiryTTL == 0 {
		u.ExpiryTTL = DefaultExpiryTTL
	}
	if u.SweepInterval == 0 {
		u.SweepInterval = DefaultSweepInterval
	}
	if u.Dispatch == "" {
		u.Dispatch = DefaultDispatch
	}
	if cfg.Server.HTTP.MaxBodySize == 0 {
		cfg.Server.HTTP.MaxBodySize = u.MaxFileSize + 1<<20
	}

	// ── Cache / Index ─────────────────────────────────────────────────────────
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = DefaultCacheTTL
	}
	if cfg.Cache.MemorySize == 0 {
		cfg.Cache.MemorySize = DefaultCacheMemorySize
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = DefaultIndexBackend
	}
	if cfg.Index.FingerprintType == "" {
		cfg.Index.FingerprintType = DefaultFingerprintType
	}
	if cfg.Index.SnapshotPageSize == 0 {
		cfg.Index.SnapshotPageSize = DefaultSnapshotPageSize
	}

	// ── Milvus ────────────────────────────────────────────────────────────────
	if cfg.Milvus.Addr == "" {
		cfg.Milvus.Addr = DefaultMilvusAddr
	}
	if cfg.Milvus.Collection == "" {
		cfg.Milvus.Collection = DefaultMilvusCollection
	}
	if cfg.Milvus.IndexType == "" {
		cfg.Milvus.IndexType = DefaultMilvusIndexType
	}
	if cfg.Milvus.NList == 0 {
		cfg.Milvus.NList = 128
	}
	if cfg.Milvus.NProbe == 0 {
		cfg.Milvus.NProbe = 16
	}
	if cfg.Milvus.ConnectTimeout == 0 {
		cfg.Milvus.ConnectTimeout = 10 * time.Second
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryBackoff == 0 {
		cfg.Worker.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = 8081
	}

	// ── Log / Metrics ─────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Default returns a Config populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
