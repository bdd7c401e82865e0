package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/interfaces/http/middleware"
	"github.com/turtacn/molingest/pkg/errors"
	"github.com/turtacn/molingest/pkg/types/common"
)

// writeJSON wraps data in the success envelope.
func writeJSON[T any](w http.ResponseWriter, r *http.Request, statusCode int, data T) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(common.NewSuccessResponse(data, chimw.GetReqID(r.Context())))
}

// writeAppError maps err to its HTTP status. Server-side failures are logged
// and masked.
func writeAppError(w http.ResponseWriter, r *http.Request, log logging.Logger, err error) {
	var ae *errors.AppError
	if !errors.As(err, &ae) {
		ae = errors.Wrap(err, errors.ErrCodeInternal, "internal server error")
	}
	status := errors.HTTPStatusForCode(ae.Code)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			logging.String("path", r.URL.Path),
			logging.String("code", string(ae.Code)),
			logging.Err(err))
		ae = errors.New(ae.Code, errors.DefaultMessageForCode(ae.Code))
	}
	middleware.WriteError(w, r, status, ae)
}

// queryInt reads a non-negative integer query parameter, or def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.InvalidParam(name + " must be a non-negative integer").WithDetail(v)
	}
	return n, nil
}
