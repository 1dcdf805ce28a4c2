package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorKind(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusForbidden, ErrAuthFailed},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusBadRequest, ErrOrderRejected},
		{http.StatusConflict, ErrOrderRejected},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrUpstream},
	}
	for _, tc := range cases {
		err := &APIError{Status: tc.status}
		assert.Equal(t, tc.want, err.Kind(), "status %d", tc.status)
	}
}

func TestWrapKeepsClassification(t *testing.T) {
	wrapped := fmt.Errorf("create order: %w", &APIError{Status: 429, Code: "too_many_requests", Body: "{}"})

	assert.True(t, IsRateLimited(wrapped))
	assert.False(t, IsAuthFailed(wrapped))

	appErr := Wrap(wrapped)
	assert.Equal(t, ErrRateLimited, appErr.Type)
	assert.Equal(t, http.StatusTooManyRequests, appErr.HTTPStatus)
}

func TestWrapPassesThroughAppError(t *testing.T) {
	orig := NewRiskReject("too big")
	assert.Same(t, orig, Wrap(fmt.Errorf("outer: %w", orig)))
	assert.Nil(t, Wrap(nil))
}
