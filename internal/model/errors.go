package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the storefront error taxonomy.
// Use errors.Is() to check against these; callers never branch on error shape.
var (
	ErrTransport          = errors.New("transport failure")
	ErrValidation         = errors.New("invalid input")
	ErrServerRejection    = errors.New("rejected by server")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrInvalidPayload     = errors.New("invalid server payload")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPaymentCancelled   = errors.New("payment cancelled")
	ErrPaymentRejected    = errors.New("payment rejected")
	ErrVerificationFailed = errors.New("payment verification failed")
)

// APIError is the single typed error surfaced by the subsystem.
// Message is always safe to show to the shopper.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"` // set for validation errors
	StatusCode int    `json:"-"`               // HTTP status from the backend, 0 if none
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps network-level failures (DNS, timeout, refused, open breaker).
func NewTransportError(service string, err error) *APIError {
	return &APIError{
		Code:    "TRANSPORT_ERROR",
		Message: fmt.Sprintf("could not reach %s, please try again", service),
		Err:     fmt.Errorf("%w: %v", ErrTransport, err),
	}
}

// NewValidationError creates a client-side, field-tagged error.
// It never originates from the network layer.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:    "VALIDATION_ERROR",
		Message: reason,
		Field:   field,
		Err:     ErrValidation,
	}
}

// NewServerRejection creates an error for a non-2xx backend response.
func NewServerRejection(statusCode int, code, message string) *APIError {
	if code == "" {
		code = "SERVER_REJECTED"
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", statusCode)
	}
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        ErrServerRejection,
	}
}

// NewUnauthorizedError creates a 401/403 rejection.
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: 401,
		Err:        fmt.Errorf("%w: %w", ErrUnauthorized, ErrServerRejection),
	}
}

// NewNotFoundError creates a 404 rejection for a missing resource.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        fmt.Errorf("%w: %w", ErrNotFound, ErrServerRejection),
	}
}

// NewInvalidPayloadError is returned when a 2xx body fails the schema check.
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:    "INVALID_PAYLOAD",
		Message: "the store returned an unexpected response",
		Err:     fmt.Errorf("%w: %s", ErrInvalidPayload, reason),
	}
}

// NewGatewayUnavailableError is returned when the gateway library or widget cannot start.
func NewGatewayUnavailableError(err error) *APIError {
	return &APIError{
		Code:    "GATEWAY_UNAVAILABLE",
		Message: "payment gateway is unavailable, please try again later",
		Err:     fmt.Errorf("%w: %v", ErrGatewayUnavailable, err),
	}
}

// NewPaymentCancelledError is returned when the shopper dismisses the gateway.
func NewPaymentCancelledError(reason string) *APIError {
	if reason == "" {
		reason = "payment was cancelled"
	}
	return &APIError{
		Code:    "PAYMENT_CANCELLED",
		Message: reason,
		Err:     ErrPaymentCancelled,
	}
}

// NewPaymentRejectedError is returned when the gateway reports a failed payment.
func NewPaymentRejectedError(reason string) *APIError {
	if reason == "" {
		reason = "payment was declined"
	}
	return &APIError{
		Code:       "PAYMENT_REJECTED",
		Message:    reason,
		StatusCode: 402,
		Err:        ErrPaymentRejected,
	}
}

// NewVerificationError is returned when the gateway reported success but the
// backend could not confirm it. A charge may exist, so the ids are kept for support.
func NewVerificationError(gatewayOrderID, paymentID string, err error) *APIError {
	return &APIError{
		Code: "VERIFICATION_FAILED",
		Message: fmt.Sprintf("your payment %s could not be confirmed yet; contact support with reference %s",
			paymentID, gatewayOrderID),
		Err: fmt.Errorf("%w: %w", ErrVerificationFailed, err),
	}
}

// ValidationErrors collects every failing field of a form.
type ValidationErrors []*APIError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Field + ": " + e.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes each field error so errors.Is(err, ErrValidation) holds.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// Fields returns the tagged field names in order.
func (v ValidationErrors) Fields() []string {
	fields := make([]string, len(v))
	for i, e := range v {
		fields[i] = e.Field
	}
	return fields
}

// UserMessage returns the message to show at the call site.
// Unknown errors get a generic message so internals never leak.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var verrs ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Message
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return "something went wrong, please try again"
}
