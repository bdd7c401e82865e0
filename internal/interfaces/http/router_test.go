package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/turtacn/molingest/internal/application/upload"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/interfaces/http/handlers"
	"github.com/turtacn/molingest/internal/interfaces/http/middleware"
	"github.com/turtacn/molingest/pkg/errors"
)

// stubService answers every call with not-found and records the tenant seen.
type stubService struct {
	mu      sync.Mutex
	tenants []string
}

func (s *stubService) seen(tenantID string) error {
	s.mu.Lock()
	s.tenants = append(s.tenants, tenantID)
	s.mu.Unlock()
	return errors.New(errors.ErrCodeUploadNotFound, "upload not found")
}

func (s *stubService) Create(_ context.Context, req app.CreateRequest) (*domain.Upload, error) {
	return nil, s.seen(req.TenantID)
}
func (s *stubService) Get(_ context.Context, t, _ string) (*domain.Upload, error) {
	return nil, s.seen(t)
}
func (s *stubService) Progress(_ context.Context, t, _ string) (*domain.Progress, error) {
	return nil, s.seen(t)
}
func (s *stubService) ListRowErrors(_ context.Context, t, _ string, _, _ int) (*app.RowErrorPage, error) {
	return nil, s.seen(t)
}
func (s *stubService) ErrorSummary(_ context.Context, t, _ string) ([]domain.CodeCount, error) {
	return nil, s.seen(t)
}
func (s *stubService) Summary(_ context.Context, t, _ string) (*domain.ResultSummary, error) {
	return nil, s.seen(t)
}
func (s *stubService) Confirm(_ context.Context, t, _ string) (*domain.Upload, error) {
	return nil, s.seen(t)
}
func (s *stubService) Cancel(_ context.Context, t, _ string) (*domain.Upload, error) {
	return nil, s.seen(t)
}

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) RecordHTTPRequest(method, route string, _ int, _ time.Duration) {
	r.mu.Lock()
	r.routes = append(r.routes, method+" "+route)
	r.mu.Unlock()
}

func newTestRouter(svc handlers.UploadService, rec middleware.RequestRecorder) http.Handler {
	return NewRouter(RouterConfig{
		UploadHandler: handlers.NewUploadHandler(svc, 0, nil),
		HealthHandler: handlers.NewHealthHandler("test", nil),
		Tenant:        middleware.TenantConfig{DefaultTenantID: "default"},
		Logging:       middleware.DefaultLoggingConfig(),
		Recorder:      rec,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	})
}

func TestNewRouter_UploadRoutes(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc, nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/uploads/u-1"},
		{http.MethodGet, "/api/v1/uploads/u-1/progress"},
		{http.MethodGet, "/api/v1/uploads/u-1/errors"},
		{http.MethodGet, "/api/v1/uploads/u-1/errors/summary"},
		{http.MethodGet, "/api/v1/uploads/u-1/summary"},
		{http.MethodPost, "/api/v1/uploads/u-1/confirm"},
		{http.MethodPost, "/api/v1/uploads/u-1/cancel"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, nil)
			req.Header.Set("X-Tenant-ID", "acme")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Contains(t, rec.Body.String(), string(errors.ErrCodeUploadNotFound))
		})
	}
	for _, seen := range svc.tenants {
		assert.Equal(t, "acme", seen)
	}
	assert.Len(t, svc.tenants, len(routes))
}

func TestNewRouter_DefaultTenant(t *testing.T) {
	svc := &stubService{}
	router := newTestRouter(svc, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/uploads/u-1/summary", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, []string{"default"}, svc.tenants)
}

func TestNewRouter_PublicEndpoints(t *testing.T) {
	router := NewRouter(RouterConfig{
		HealthHandler:  handlers.NewHealthHandler("test", nil),
		Tenant:         middleware.TenantConfig{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		MetricsPath:    "/internal/metrics",
	})

	for path, want := range map[string]int{
		"/healthz":          http.StatusOK,
		"/readyz":           http.StatusOK,
		"/internal/metrics": http.StatusTeapot,
		"/metrics":          http.StatusNotFound,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}

func TestNewRouter_APIRequiresTenant(t *testing.T) {
	router := NewRouter(RouterConfig{UploadHandler: handlers.NewUploadHandler(&stubService{}, 0, nil)})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/uploads/u-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNewRouter_RecordsRoutePatternsAndRequestID(t *testing.T) {
	rec := &routeRecorder{}
	router := newTestRouter(&stubService{}, rec)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/uploads/abc/confirm", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, []string{"POST /api/v1/uploads/{uploadID}/confirm"}, rec.routes)
}

func TestNewRouter_NilHandlers(t *testing.T) {
	router := NewRouter(RouterConfig{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
