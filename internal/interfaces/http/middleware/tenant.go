// Package middleware holds the chi middleware of the REST API.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
	"github.com/turtacn/molingest/pkg/types/common"
	types "github.com/turtacn/molingest/pkg/types/upload"
)

type contextKey int

const (
	tenantKey contextKey = iota
	userKey
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// TenantConfig controls where the tenant and user come from. Identity is
// asserted by the gateway in front of the API.
type TenantConfig struct {
	HeaderName      string
	UserHeaderName  string
	DefaultTenantID string
	AllowedTenants  []string
}

// NewTenantMiddleware resolves the tenant of every request. Requests without
// a usable tenant are rejected with 400, tenants outside AllowedTenants with
// 403.
func NewTenantMiddleware(cfg TenantConfig, logger logging.Logger) func(http.Handler) http.Handler {
	if cfg.HeaderName == "" {
		cfg.HeaderName = types.HeaderTenantID
	}
	if cfg.UserHeaderName == "" {
		cfg.UserHeaderName = types.HeaderUserID
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedTenants) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedTenants))
		for _, t := range cfg.AllowedTenants {
			allowed[strings.TrimSpace(t)] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(cfg.HeaderName))
			if tenantID == "" {
				tenantID = cfg.DefaultTenantID
			}

			switch {
			case tenantID == "":
				WriteError(w, r, http.StatusBadRequest, errors.New(errors.ErrCodeValidation, "tenant id is required").
					WithDetail("set the "+cfg.HeaderName+" header"))
				return
			case !tenantIDPattern.MatchString(tenantID):
				logger.Warn("invalid tenant id", logging.String("tenant_id", tenantID), logging.String("path", r.URL.Path))
				WriteError(w, r, http.StatusBadRequest, errors.New(errors.ErrCodeValidation, "invalid tenant id format"))
				return
			}
			if allowed != nil {
				if _, ok := allowed[tenantID]; !ok {
					logger.Warn("tenant not permitted", logging.TenantID(tenantID))
					WriteError(w, r, http.StatusForbidden, errors.New(errors.ErrCodeForbidden, "tenant is not permitted"))
					return
				}
			}

			ctx := context.WithValue(r.Context(), tenantKey, tenantID)
			if user := strings.TrimSpace(r.Header.Get(cfg.UserHeaderName)); user != "" {
				ctx = context.WithValue(ctx, userKey, user)
			}
			w.Header().Set(cfg.HeaderName, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextGetTenantID returns the tenant resolved by NewTenantMiddleware.
func ContextGetTenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

// ContextGetUserID returns the calling user, or "".
func ContextGetUserID(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

// WithTenant returns ctx carrying tenantID and userID, as the middleware
// would set them.
func WithTenant(ctx context.Context, tenantID, userID string) context.Context {
	ctx = context.WithValue(ctx, tenantKey, tenantID)
	if userID != "" {
		ctx = context.WithValue(ctx, userKey, userID)
	}
	return ctx
}

// WriteError renders err in the API envelope with the given status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, err *errors.AppError) {
	body := common.NewErrorResponse(string(err.Code), err.Message, err.Detail, chimw.GetReqID(r.Context()))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
