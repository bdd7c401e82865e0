package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/pkg/errors"
	"github.com/turtacn/molingest/pkg/types/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithRetryWait(time.Millisecond, 2*time.Millisecond)}, opts...)
	c, err := NewClient(server.URL, "acme", opts...)
	require.NoError(t, err)
	return c
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(common.NewSuccessResponse(data, "req-1"))
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(common.NewErrorResponse(code, msg, "", "req-1"))
}

type testLogger struct{ count int32 }

func (l *testLogger) Debugf(string, ...interface{}) { atomic.AddInt32(&l.count, 1) }
func (l *testLogger) Infof(string, ...interface{})  { atomic.AddInt32(&l.count, 1) }
func (l *testLogger) Errorf(string, ...interface{}) { atomic.AddInt32(&l.count, 1) }

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://api.example.com/", "acme")
	require.NoError(t, err)
	assert.Equal(t, "http://api.example.com", c.baseURL)
	assert.Equal(t, 3, c.retryMax)
	assert.Contains(t, c.userAgent, "molingest-go-sdk/")

	for _, tc := range []struct{ url, tenant string }{
		{"", "acme"},
		{"http://api.example.com", ""},
		{"ftp://api.example.com", "acme"},
		{"not a url", "acme"},
	} {
		_, err := NewClient(tc.url, tc.tenant)
		assert.ErrorIs(t, err, errors.ErrInvalidConfig, "%q/%q", tc.url, tc.tenant)
	}
}

func TestClient_Uploads_LazyInit(t *testing.T) {
	c, err := NewClient("http://api.example.com", "acme")
	require.NoError(t, err)
	assert.Nil(t, c.uploads)
	assert.Same(t, c.Uploads(), c.Uploads())
}

func TestClient_SendsIdentityHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme", r.Header.Get("X-Tenant-ID"))
		assert.Equal(t, "alice", r.Header.Get("X-User-ID"))
		assert.Equal(t, "custom/1", r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		writeData(w, http.StatusOK, map[string]string{"id": "u-1"})
	}, WithUserID("alice"), WithUserAgent("custom/1"))

	var out struct{ ID string }
	require.NoError(t, c.get(context.Background(), "api/v1/uploads/u-1", &out))
	assert.Equal(t, "u-1", out.ID)
}

func TestClient_DecodesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "server-id")
		writeErr(w, http.StatusNotFound, "UPLOAD_001", "upload not found")
	})

	err := c.get(context.Background(), "/api/v1/uploads/missing", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "UPLOAD_001", apiErr.Code)
	assert.Equal(t, "upload not found", apiErr.Message)
	assert.Equal(t, "server-id", apiErr.RequestID)
}

func TestClient_NonJSONError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}, WithRetryMax(0))

	err := c.get(context.Background(), "/x", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestClient_RetriesReads(t *testing.T) {
	var calls int32
	logger := &testLogger{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeErr(w, http.StatusInternalServerError, "COMMON_001", "boom")
			return
		}
		writeData(w, http.StatusOK, map[string]int{"n": 1})
	}, WithLogger(logger))

	var out struct{ N int }
	require.NoError(t, c.get(context.Background(), "/x", &out))
	assert.Equal(t, 1, out.N)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Positive(t, atomic.LoadInt32(&logger.count))
}

func TestClient_RetryExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeErr(w, http.StatusServiceUnavailable, "COMMON_011", "unavailable")
	}, WithRetryMax(2))

	err := c.get(context.Background(), "/x", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryFailedWrites(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeErr(w, http.StatusInternalServerError, "COMMON_001", "boom")
	})

	err := c.post(context.Background(), "/api/v1/uploads/u-1/confirm", nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_RetriesRefusedWrites(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeErr(w, http.StatusTooManyRequests, "COMMON_009", "slow down")
			return
		}
		writeData(w, http.StatusAccepted, map[string]string{"status": "processing"})
	})

	require.NoError(t, c.post(context.Background(), "/api/v1/uploads/u-1/confirm", nil))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, nil)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.get(ctx, "/x", nil))
}

func TestAPIError_Error(t *testing.T) {
	e := &APIError{StatusCode: 409, Code: "UPLOAD_002", Message: "invalid upload status transition", RequestID: "r"}
	assert.Equal(t, fmt.Sprintf("molingest: UPLOAD_002 (HTTP 409): invalid upload status transition [request_id=r]"), e.Error())
	assert.True(t, e.IsConflict())
}
