// Package httpapi binds the core session and access-control components to
// HTTP, using a chi.Router, writeJSON/writeError helpers, and
// context-carried identity, plus CORS and rate-limit middleware from
// go-chi/cors and go-chi/httprate.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
)

// writeJSON encodes data as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// writeError maps err to an HTTP status via statusFor and writes a JSON
// error body. Unrecognized errors fall back to 500 with a generic message
// so internal details never leak to the client.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	kind := apperr.KindOf(err)
	detail := errorDetail{Code: string(kind), Message: err.Error()}
	if appErr, ok := err.(*apperr.Error); ok && appErr.Message != "" {
		detail.Message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		detail.Message = "internal server error"
	}
	if appErr, ok := err.(*apperr.Error); ok && len(appErr.Details) > 0 {
		detail.Details = appErr.Details
	}
	writeJSON(w, status, errorBody{Error: detail})
}

// statusFor maps an apperr.Kind to the HTTP status it implies. Errors
// that aren't *apperr.Error (a persistence layer returning a raw driver
// error, say) are treated as internal.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.Unauthorized, apperr.Unverified, apperr.Disabled, apperr.PremiumRequired:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.AlreadyExists, apperr.AlreadyConnected:
		return http.StatusConflict
	case apperr.NotConnected:
		return http.StatusNotFound
	case apperr.NoCapacity, apperr.AddressExhausted, apperr.DependencyDown:
		return http.StatusServiceUnavailable
	case apperr.PaymentFailed:
		return http.StatusPaymentRequired
	case apperr.RateLimited, apperr.Banned:
		return http.StatusTooManyRequests
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
