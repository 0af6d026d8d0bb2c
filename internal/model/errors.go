package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for gateway stage failures. Each maps to a stable error
// code in the JSON envelope via NewGatewayError.
var (
	ErrInvalidKey         = errors.New("invalid_key")
	ErrKeyRevoked         = errors.New("key_revoked")
	ErrKeyDisabled        = errors.New("key_disabled")
	ErrKeyExpired         = errors.New("key_expired")
	ErrModelBlocked       = errors.New("model_blocked")
	ErrRateLimit          = errors.New("rate_limit_exceeded")
	ErrCostLimitExceeded  = errors.New("cost_limit_exceeded")
	ErrNoRoute            = errors.New("no_route")
	ErrNoActiveConnection = errors.New("no_active_connection")
	ErrProvider           = errors.New("provider_error")
	ErrEntitlement        = errors.New("entitlement_exceeded")
	ErrTimeout            = errors.New("timeout")
	ErrAttributionNeeded  = errors.New("attribution_required")
)

// GatewayError is the unified error type surfaced by the gateway core.
// Message is always sanitized before it reaches the caller.
type GatewayError struct {
	Code       string `json:"code"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`

	// RetryAfterSeconds is set on rate limit errors.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`

	// Entitlement details, set on entitlement_exceeded.
	Feature      string `json:"feature,omitempty"`
	Plan         string `json:"plan,omitempty"`
	RequiredPlan string `json:"required_plan,omitempty"`

	Err error `json:"-"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d)", e.Code, e.Message, e.StatusCode)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError wraps a sentinel into a GatewayError with the HTTP-equivalent
// status for that failure class.
func NewGatewayError(sentinel error, message string) *GatewayError {
	return &GatewayError{
		Code:       sentinel.Error(),
		StatusCode: statusFor(sentinel),
		Message:    message,
		Err:        sentinel,
	}
}

func statusFor(sentinel error) int {
	switch {
	case errors.Is(sentinel, ErrInvalidKey),
		errors.Is(sentinel, ErrKeyExpired):
		return http.StatusUnauthorized
	case errors.Is(sentinel, ErrKeyRevoked),
		errors.Is(sentinel, ErrKeyDisabled),
		errors.Is(sentinel, ErrModelBlocked):
		return http.StatusForbidden
	case errors.Is(sentinel, ErrRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(sentinel, ErrCostLimitExceeded):
		return http.StatusPaymentRequired
	case errors.Is(sentinel, ErrNoRoute),
		errors.Is(sentinel, ErrNoActiveConnection):
		return http.StatusNotFound
	case errors.Is(sentinel, ErrEntitlement):
		return http.StatusPaymentRequired
	case errors.Is(sentinel, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(sentinel, ErrAttributionNeeded):
		return http.StatusBadRequest
	case errors.Is(sentinel, ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsGatewayError extracts a *GatewayError from err, wrapping unknown errors
// into a generic provider_error so raw upstream failures never leak through.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return NewGatewayError(ErrProvider, "upstream call failed")
}

// ErrorResponse is the JSON error envelope returned by the gateway.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         string `json:"code,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Feature      string `json:"feature,omitempty"`
	Plan         string `json:"plan,omitempty"`
	RequiredPlan string `json:"required_plan,omitempty"`
}

// errorTypes maps error codes to OpenAI-style error type strings.
var errorTypes = map[string]string{
	ErrInvalidKey.Error():         "authentication_error",
	ErrKeyRevoked.Error():         "authentication_error",
	ErrKeyDisabled.Error():        "authentication_error",
	ErrKeyExpired.Error():         "authentication_error",
	ErrModelBlocked.Error():       "permission_denied",
	ErrRateLimit.Error():          "rate_limit_exceeded",
	ErrCostLimitExceeded.Error():  "budget_exceeded",
	ErrNoRoute.Error():            "invalid_request_error",
	ErrNoActiveConnection.Error(): "invalid_request_error",
	ErrProvider.Error():           "api_error",
	ErrEntitlement.Error():        "budget_exceeded",
	ErrTimeout.Error():            "timeout",
	ErrAttributionNeeded.Error():  "invalid_request_error",
}

// Envelope converts a GatewayError into the JSON error envelope.
func (e *GatewayError) Envelope() ErrorResponse {
	t, ok := errorTypes[e.Code]
	if !ok {
		t = "api_error"
	}
	return ErrorResponse{Error: ErrorDetail{
		Message:      e.Message,
		Type:         t,
		Code:         e.Code,
		Provider:     e.Provider,
		Model:        e.Model,
		Feature:      e.Feature,
		Plan:         e.Plan,
		RequiredPlan: e.RequiredPlan,
	}}
}

// MapHTTPStatusToError maps an upstream HTTP status to a sentinel error.
func MapHTTPStatusToError(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrProvider
	case status == http.StatusTooManyRequests:
		return ErrRateLimit
	case status == http.StatusRequestTimeout:
		return ErrTimeout
	default:
		return ErrProvider
	}
}
