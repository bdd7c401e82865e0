package grpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/turtacn/molingest/internal/config"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
)

type flipProber struct{ up atomic.Bool }

func (p *flipProber) CheckAll(context.Context) bool { return p.up.Load() }

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) RecordGRPCRequest(method, code string, _ time.Duration) {
	r.mu.Lock()
	r.calls = append(r.calls, method+" "+code)
	r.mu.Unlock()
}

func startServer(t *testing.T, opts ...Option) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s, err := NewServer(config.GRPCConfig{}, append(opts, WithListener(lis), WithLogger(logging.NewNopLogger()))...)
	require.NoError(t, err)
	go func() { _ = s.Start() }()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	conn, err := grpc.Dial(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func healthStatus(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_ServingWithoutProber(t *testing.T) {
	_, c := startServer(t)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, c, ServiceName))
}

func TestServer_ProberDrivesStatus(t *testing.T) {
	p := &flipProber{}
	_, c := startServer(t, WithProber(p, 10*time.Millisecond))

	assert.Eventually(t, func() bool {
		return healthStatus(t, c, ServiceName) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)
	// liveness is independent of dependencies
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, healthStatus(t, c, ""))

	p.up.Store(true)
	assert.Eventually(t, func() bool {
		return healthStatus(t, c, ServiceName) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 10*time.Millisecond)
}

func TestServer_UnknownService(t *testing.T) {
	_, c := startServer(t)
	_, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_RecordsCalls(t *testing.T) {
	rec := &callRecorder{}
	_, c := startServer(t, WithRecorder(rec))
	healthStatus(t, c, "")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"/grpc.health.v1.Health/Check OK"}, rec.calls)
}

func TestServer_DoubleStartAndStopBeforeStart(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s, err := NewServer(config.GRPCConfig{}, WithListener(lis))
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))

	go func() { _ = s.Start() }()
	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.started
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop(context.Background()))
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	icpt := recoveryUnaryInterceptor(logging.NewNopLogger())
	_, err := icpt(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Boom"},
		func(context.Context, interface{}) (interface{}, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestIsHealthCheck(t *testing.T) {
	assert.True(t, isHealthCheck("/grpc.health.v1.Health/Check"))
	assert.True(t, isHealthCheck("/grpc.health.v1.Health/Watch"))
	assert.False(t, isHealthCheck("/molingest.upload.v1.UploadService/Get"))
}
