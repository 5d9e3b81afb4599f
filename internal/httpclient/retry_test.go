package httpclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRetryPolicyShouldRetryRespectsCeiling(t *testing.T) {
	p := NewRetryPolicy()
	require.True(t, p.ShouldRetry(1, 503, nil))
	require.False(t, p.ShouldRetry(p.MaxAttempts, 503, nil))
}

func TestRetryPolicyShouldRetryNonRetryableStatus(t *testing.T) {
	p := NewRetryPolicy()
	require.False(t, p.ShouldRetry(1, 400, nil))
}

func TestRetryPolicyCalculateBackoffGrowsAndCaps(t *testing.T) {
	p := NewRetryPolicy()
	first := p.CalculateBackoff(1)
	later := p.CalculateBackoff(10)
	require.Greater(t, later, first)
	require.LessOrEqual(t, later, p.MaxBackoff+p.MaxBackoff/5) // allow jitter headroom
}

func TestRetryPolicyExecuteWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := &RetryPolicy{
		MaxAttempts:          5,
		InitialBackoff:       0,
		MaxBackoff:           0,
		BackoffMultiplier:    1,
		RetryableStatusCodes: map[int]bool{503: true},
	}
	attempts := 0
	status, err := p.ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 503, nil
		}
		return 200, nil
	})
	require.NoError(t, err)
	require.Equal(t, 200, status)
	require.Equal(t, 3, attempts)
}

func TestRetryPolicyExecuteWithRetryStopsAtCeiling(t *testing.T) {
	p := &RetryPolicy{
		MaxAttempts:          3,
		InitialBackoff:       0,
		MaxBackoff:           0,
		BackoffMultiplier:    1,
		RetryableStatusCodes: map[int]bool{503: true},
	}
	attempts := 0
	status, err := p.ExecuteWithRetry(context.Background(), arbor.NewLogger(), func() (int, error) {
		attempts++
		return 503, nil
	})
	require.NoError(t, err)
	require.Equal(t, 503, status)
	require.Equal(t, 3, attempts)
}

func TestIsRetryableErrorDeadlineExceeded(t *testing.T) {
	require.True(t, isRetryableError(context.DeadlineExceeded))
	require.False(t, isRetryableError(errors.New("some other error")))
}
