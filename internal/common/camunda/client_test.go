package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "nomination-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastBackoff = Backoff{Attempts: 2, Base: time.Millisecond, Max: 2 * time.Millisecond}

func TestRetry_RecoversFromTransientError(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastBackoff, "topology", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("rpc error: code = Unavailable desc = connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastBackoff, "topology", func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})

	assert.Equal(t, 3, calls)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeExternalService))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetry_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastBackoff, "deploy", func(context.Context) error {
		calls++
		return errors.New("permission denied")
	})

	assert.Equal(t, 1, calls)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAuthentication))
}

func TestRetry_StopsWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry(ctx, Backoff{Attempts: 5, Base: time.Hour, Max: time.Hour}, "topology", func(context.Context) error {
		return errors.New("unavailable")
	})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTimeout))
}

func TestMapGatewayError(t *testing.T) {
	tests := []struct {
		msg  string
		code apperrors.ErrorCode
	}{
		{"context deadline exceeded", apperrors.ErrCodeTimeout},
		{"process not found", apperrors.ErrCodeResourceNotFound},
		{"resource already exists", apperrors.ErrCodeBusinessRule},
		{"Unauthorized", apperrors.ErrCodeAuthentication},
		{"something odd", apperrors.ErrCodeExternalService},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := mapGatewayError(errors.New(tt.msg), "topology", 0)
			assert.True(t, apperrors.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Attempts: 5, Base: time.Second, Max: 5 * time.Second}

	assert.Equal(t, time.Second, b.delay(0))
	assert.Equal(t, 4*time.Second, b.delay(2))
	assert.Equal(t, 5*time.Second, b.delay(3))
}
