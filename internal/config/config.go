// Package config defines the configuration structures for molingest. No I/O
// lives here, only plain data types and validation; loading is in loader.go.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig groups the HTTP and gRPC listeners of the API server.
type ServerConfig struct {
	HTTP HTTPConfig `mapstructure:"http"`
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// HTTPConfig holds HTTP server tunables.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxBodySize bounds multipart upload requests. It should be at least
	// Upload.MaxFileSize plus form overhead.
	MaxBodySize  int64  `mapstructure:"max_body_size"`
	TenantHeader string `mapstructure:"tenant_header"`
}

// GRPCConfig holds the gRPC health listener settings.
type GRPCConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Port       int  `mapstructure:"port"`
	Reflection bool `mapstructure:"reflection"`
	// ProbeInterval is how often dependency health is re-evaluated.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "pgx" | "postgres"
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection parameters. Redis backs the shared
// cache and the sweeper lock.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds job-dispatch and lifecycle-event topic settings.
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	GroupID           string        `mapstructure:"group_id"`
	ValidateTopic     string        `mapstructure:"validate_topic"`
	ProcessTopic      string        `mapstructure:"process_topic"`
	EventsTopic       string        `mapstructure:"events_topic"`
	DeadLetterTopic   string        `mapstructure:"dead_letter_topic"`
	AutoCreateTopics  bool          `mapstructure:"auto_create_topics"`
	NumPartitions     int           `mapstructure:"num_partitions"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

// MinIOConfig holds S3-compatible object storage parameters.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// StorageConfig selects where uploaded files are kept.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"` // "local" | "minio"
	LocalRoot string `mapstructure:"local_root"`
}

// ChemistryConfig selects the structure normalization engine.
type ChemistryConfig struct {
	Engine   string        `mapstructure:"engine"` // "rdkit" | "builtin" | "passthrough"
	RDKitURL string        `mapstructure:"rdkit_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RetryMax int           `mapstructure:"retry_max"`
	// CacheResults memoizes engine responses through the cache port so the
	// insertion pass does not repeat sidecar calls made during validation.
	CacheResults bool          `mapstructure:"cache_results"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// UploadConfig holds pipeline limits and thresholds.
type UploadConfig struct {
	MaxFileSize                int64         `mapstructure:"max_file_size"`
	MaxRows                    int           `mapstructure:"max_rows"`
	ChunkSize                  int           `mapstructure:"chunk_size"`
	RawValueLimit              int           `mapstructure:"raw_value_limit"`
	MaxStructureLength         int           `mapstructure:"max_structure_length"`
	MaxHeavyAtoms              int           `mapstructure:"max_heavy_atoms"`
	FailureThreshold           float64       `mapstructure:"failure_threshold"`
	DefaultSimilarityThreshold float64       `mapstructure:"default_similarity_threshold"`
	ProgressFlushEvery         int           `mapstructure:"progress_flush_every"`
	ExpiryTTL                  time.Duration `mapstructure:"expiry_ttl"`
	SweepInterval              time.Duration `mapstructure:"sweep_interval"`
	// Dispatch is "kafka" to hand jobs to workers or "inline" to run them in
	// the API process.
	Dispatch string `mapstructure:"dispatch"`
}

// CacheConfig selects the cache port backend.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"` // "memory" | "redis"
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MemorySize int           `mapstructure:"memory_size"`
}

// IndexConfig selects the similarity index.
type IndexConfig struct {
	Backend          string `mapstructure:"backend"` // "bruteforce" | "store" | "milvus"
	FingerprintType  string `mapstructure:"fingerprint_type"`
	SnapshotPageSize int    `mapstructure:"snapshot_page_size"`
}

// MilvusConfig holds Milvus connection and index parameters.
type MilvusConfig struct {
	Addr           string        `mapstructure:"addr"`
	DBName         string        `mapstructure:"db_name"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Collection     string        `mapstructure:"collection"`
	IndexType      string        `mapstructure:"index_type"` // "BIN_FLAT" | "BIN_IVF_FLAT"
	NList          int           `mapstructure:"nlist"`
	NProbe         int           `mapstructure:"nprobe"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// WorkerConfig holds background-worker execution parameters.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	HealthPort   int           `mapstructure:"health_port"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level    string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format   string `mapstructure:"format"` // "json" | "console"
	Output   string `mapstructure:"output"`
	Sampling bool   `mapstructure:"sampling"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Chemistry ChemistryConfig `mapstructure:"chemistry"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Index     IndexConfig     `mapstructure:"index"`
	Milvus    MilvusConfig    `mapstructure:"milvus"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

func validPort(p int) bool { return p >= 1 && p <= 65535 }

// Validate performs semantic validation of a defaulted Config and returns the
// first problem found. Backend-specific sections are only checked when the
// backend is selected.
func (c *Config) Validate() error {
	if !validPort(c.Server.HTTP.Port) {
		return fmt.Errorf("config: server.http.port %d is out of range [1, 65535]", c.Server.HTTP.Port)
	}
	if c.Server.GRPC.Enabled && !validPort(c.Server.GRPC.Port) {
		return fmt.Errorf("config: server.grpc.port %d is out of range [1, 65535]", c.Server.GRPC.Port)
	}

	if c.Database.Driver != "pgx" && c.Database.Driver != "postgres" {
		return fmt.Errorf("config: database.driver %q is invalid; expected pgx|postgres", c.Database.Driver)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if !validPort(c.Database.Port) {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("config: database.user is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("config: database.db_name is required")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("config: database.max_conns must be >= 1, got %d", c.Database.MaxConns)
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalRoot == "" {
			return fmt.Errorf("config: storage.local_root is required for the local backend")
		}
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.endpoint and minio.bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("config: storage.backend %q is invalid; expected local|minio", c.Storage.Backend)
	}

	switch c.Chemistry.Engine {
	case "builtin", "passthrough":
	case "rdkit":
		if c.Chemistry.RDKitURL == "" {
			return fmt.Errorf("config: chemistry.rdkit_url is required for the rdkit engine")
		}
	default:
		return fmt.Errorf("config: chemistry.engine %q is invalid; expected rdkit|builtin|passthrough", c.Chemistry.Engine)
	}

	u := c.Upload
	if u.MaxFileSize <= 0 {
		return fmt.Errorf("config: upload.max_file_size must be > 0")
	}
	if u.MaxRows <= 0 || u.ChunkSize <= 0 {
		return fmt.Errorf("config: upload.max_rows and upload.chunk_size must be > 0")
	}
	if u.FailureThreshold < 0 || u.FailureThreshold > 1 {
		return fmt.Errorf("config: upload.failure_threshold %.3f is out of range [0, 1]", u.FailureThreshold)
	}
	if u.DefaultSimilarityThreshold < 0 || u.DefaultSimilarityThreshold > 1 {
		return fmt.Errorf("config: upload.default_similarity_threshold %.3f is out of range [0, 1]", u.DefaultSimilarityThreshold)
	}
	if u.ExpiryTTL <= 0 {
		return fmt.Errorf("config: upload.expiry_ttl must be > 0")
	}
	switch u.Dispatch {
	case "inline":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers is required when upload.dispatch is kafka")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required when upload.dispatch is kafka")
		}
	default:
		return fmt.Errorf("config: upload.dispatch %q is invalid; expected kafka|inline", u.Dispatch)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("config: cache.backend %q is invalid; expected memory|redis", c.Cache.Backend)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
	}

	switch c.Index.Backend {
	case "bruteforce", "store":
	case "milvus":
		if c.Milvus.Addr == "" {
			return fmt.Errorf("config: milvus.addr is required for the milvus index backend")
		}
		switch c.Milvus.IndexType {
		case "BIN_FLAT", "BIN_IVF_FLAT":
		default:
			return fmt.Errorf("config: milvus.index_type %q is invalid; expected BIN_FLAT|BIN_IVF_FLAT", c.Milvus.IndexType)
		}
	default:
		return fmt.Errorf("config: index.backend %q is invalid; expected bruteforce|store|milvus", c.Index.Backend)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be >= 1, got %d", c.Worker.Concurrency)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string for the database section.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}
