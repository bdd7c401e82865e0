package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/types/common"
)

func serveTenant(cfg TenantConfig, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	var tenant, user string
	h := NewTenantMiddleware(cfg, logging.NewNopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant = ContextGetTenantID(r.Context())
		user = ContextGetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, tenant, user
}

func TestTenantMiddleware_FromHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/x", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	req.Header.Set("X-User-ID", "alice")

	w, tenant, user := serveTenant(TenantConfig{}, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "acme", tenant)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "acme", w.Header().Get("X-Tenant-ID"))
}

func TestTenantMiddleware_Default(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w, tenant, user := serveTenant(TenantConfig{DefaultTenantID: "default"}, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "default", tenant)
	assert.Empty(t, user)
}

func TestTenantMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		cfg    TenantConfig
		tenant string
		status int
		code   string
	}{
		{"missing", TenantConfig{}, "", http.StatusBadRequest, "COMMON_010"},
		{"bad format", TenantConfig{}, "a b/c", http.StatusBadRequest, "COMMON_010"},
		{"not allowed", TenantConfig{AllowedTenants: []string{"acme"}}, "other", http.StatusForbidden, "COMMON_004"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.tenant != "" {
				req.Header.Set("X-Tenant-ID", tt.tenant)
			}
			w, tenant, _ := serveTenant(tt.cfg, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Empty(t, tenant)

			var body common.APIResponse[any]
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}
