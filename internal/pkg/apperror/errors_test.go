package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchWithErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      error
		retryable bool
		status    int
	}{
		{"transport", Transport(context.DeadlineExceeded), ErrTransport, true, 0},
		{"rejected", Rejected(422, "question is empty"), ErrServerRejected, false, 422},
		{"expired", AuthExpired(401), ErrAuthExpired, false, 401},
		{"invalid", AuthInvalid(errors.New("refresh token revoked")), ErrAuthInvalid, false, 0},
		{"timeout", Timeout("polling budget exhausted"), ErrTimeout, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.kind)
			assert.Equal(t, tt.retryable, IsRetryable(wrapped))
			assert.Equal(t, tt.status, StatusCode(wrapped))
		})
	}
}

func TestCauseStaysReachable(t *testing.T) {
	err := Transport(context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "transport error: context deadline exceeded", err.Error())

	rej := Rejected(404, "job not found")
	assert.Equal(t, "server rejected (HTTP 404): job not found", rej.Error())
	assert.NotErrorIs(t, rej, ErrTransport)
}
