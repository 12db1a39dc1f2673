package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/artpar/quotaguard/domain/fault"
)

// ErrorBody is the JSON body of an error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure.
type ErrorDetail struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	RetryAfter     int64  `json:"retry_after,omitempty"`
	QuotaRemaining *int64 `json:"quota_remaining,omitempty"`
}

// StatusOf maps an engine error to an HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, fault.ErrAdmissionDenied):
		return http.StatusTooManyRequests
	case errors.Is(err, fault.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, fault.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fault.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, fault.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error response. Store and unknown
// failures are reported without their cause.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	detail := ErrorDetail{Code: "internal_error", Message: "internal error"}

	if fe, ok := fault.As(err); ok {
		detail.Code = fe.Code
		detail.Message = fe.Message
		if errors.Is(err, fault.ErrStoreUnavailable) {
			detail.Message = "service temporarily unavailable"
		}
		if errors.Is(err, fault.ErrAdmissionDenied) {
			secs := fe.RetryAfterSeconds()
			detail.RetryAfter = secs
			remaining := fe.QuotaRemaining
			detail.QuotaRemaining = &remaining
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}

	writeJSON(w, status, ErrorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
