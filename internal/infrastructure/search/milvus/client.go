// Package milvus serves near-duplicate search over binary fingerprints from
// a Milvus collection, scored with the Jaccard (Tanimoto) distance.
package milvus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/turtacn/molingest/internal/config"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// MilvusClientFactory defines the signature for creating a Milvus client.
type MilvusClientFactory func(ctx context.Context, conf client.Config) (client.Client, error)

// milvusNewClient is a variable to allow mocking in tests.
var milvusNewClient MilvusClientFactory = client.NewClient

var (
	ErrConnectionFailed = errors.New(errors.ErrCodeServiceUnavailable, "milvus connection failed")
	ErrUnhealthy        = errors.New(errors.ErrCodeServiceUnavailable, "milvus unhealthy")
)

const (
	defaultConnectTimeout = 10 * time.Second
	keepAliveTime         = 60 * time.Second
	keepAliveTimeout      = 20 * time.Second
)

// Client manages the Milvus connection.
type Client struct {
	milvusClient client.Client
	logger       logging.Logger
	mu           sync.RWMutex
	closed       bool
}

// NewClient connects to cfg.Addr and verifies the server is healthy.
func NewClient(cfg config.MilvusConfig, log logging.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New(errors.ErrCodeValidation, "milvus address is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dbName := cfg.DBName
	if dbName == "" {
		dbName = "default"
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	mc, err := milvusNewClient(ctx, client.Config{
		Address:  cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   dbName,
		DialOptions: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                keepAliveTime,
				Timeout:             keepAliveTimeout,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, ErrConnectionFailed.Code, "failed to create milvus client").WithDetail(cfg.Addr)
	}

	c := NewClientWithMilvus(mc, log)
	if err := c.CheckHealth(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	log.Info("Milvus client connected", logging.String("address", cfg.Addr))
	return c, nil
}

// NewClientWithMilvus wraps an existing SDK client.
func NewClientWithMilvus(mc client.Client, log logging.Logger) *Client {
	return &Client{milvusClient: mc, logger: log}
}

// CheckHealth asks the server for its state.
func (c *Client) CheckHealth(ctx context.Context) error {
	mc, err := c.sdk()
	if err != nil {
		return err
	}
	state, err := mc.CheckHealth(ctx)
	if err != nil {
		c.logger.Warn("Milvus health check failed", logging.Err(err))
		return errors.Wrap(err, ErrUnhealthy.Code, "milvus health check failed")
	}
	if state != nil && !state.IsHealthy {
		return ErrUnhealthy.WithDetail(strings.Join(state.Reasons, "; "))
	}
	return nil
}

// Close closes the SDK client once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.milvusClient.Close(); err != nil {
		return err
	}
	c.logger.Info("Milvus client closed")
	return nil
}

func (c *Client) sdk() (client.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.milvusClient == nil {
		return nil, ErrConnectionFailed
	}
	return c.milvusClient, nil
}
