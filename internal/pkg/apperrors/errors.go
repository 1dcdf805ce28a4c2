package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrRiskReject     ErrorType = "RISK_REJECT"
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrRateLimited    ErrorType = "RATE_LIMITED"
	ErrOrderRejected  ErrorType = "ORDER_REJECTED"
	ErrSystemPanic    ErrorType = "SYSTEM_PANIC"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrUpstream       ErrorType = "UPSTREAM_ERROR"
	ErrConflict       ErrorType = "CONFLICT"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewRiskReject(msg string) *AppError {
	return New(ErrRiskReject, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

// Wrap converts any error into an AppError. Exchange API errors keep their
// classification.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return New(apiErr.Kind(), err.Error(), err)
	}
	return New(ErrInternal, err.Error(), err)
}

// APIError is a non-2xx response from the exchange REST API.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Body    string `json:"body,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("exchange api error %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange api error %d: %s", e.Status, e.Body)
}

// Kind classifies the failure by HTTP status.
func (e *APIError) Kind() ErrorType {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return ErrOrderRejected
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrUpstream
	}
}

func IsRateLimited(err error) bool {
	return kindOf(err) == ErrRateLimited
}

func IsAuthFailed(err error) bool {
	return kindOf(err) == ErrAuthFailed
}

func IsOrderRejected(err error) bool {
	return kindOf(err) == ErrOrderRejected
}

func kindOf(err error) ErrorType {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrRiskReject, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrOrderRejected:
		return http.StatusUnprocessableEntity
	case ErrSystemPanic:
		return http.StatusServiceUnavailable
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrRiskReject:
		return "Check order parameters against risk limits."
	case ErrRateLimited:
		return "Back off and retry later."
	case ErrOrderRejected:
		return "Check ticker, price and count against exchange rules."
	case ErrAuthFailed:
		return "Check the API key id and private key."
	case ErrSystemPanic:
		return "Trading is suspended; clear panic mode to resume."
	default:
		return ""
	}
}
