package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errIssuer = errors.New("issuer unreachable")

func failing() (int, error) { return 0, errIssuer }
func succeeding() (int, error) { return 1, nil }

func newTestBreaker() *Breaker {
	return New(Config{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: 20 * time.Millisecond})
}

func TestDo_PassesThroughWhileClosed(t *testing.T) {
	b := newTestBreaker()
	got, err := Do(context.Background(), b, succeeding)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, StateClosed, b.State())
}

func TestDo_OpensAfterThreshold(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		_, err := Do(context.Background(), b, failing)
		assert.ErrorIs(t, err, errIssuer)
	}
	assert.Equal(t, StateOpen, b.State())

	// Open breaker fails fast without invoking the call.
	calls := 0
	_, err := Do(context.Background(), b, func() (int, error) {
		calls++
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestDo_ProbesAfterOpenTimeout(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		Do(context.Background(), b, failing)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(25 * time.Millisecond)

	// First probe succeeds; breaker is half-open until the success
	// threshold is met.
	_, err := Do(context.Background(), b, succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = Do(context.Background(), b, succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestDo_HalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker()
	for i := 0; i < 3; i++ {
		Do(context.Background(), b, failing)
	}
	time.Sleep(25 * time.Millisecond)

	_, err := Do(context.Background(), b, failing)
	assert.ErrorIs(t, err, errIssuer)
	assert.Equal(t, StateOpen, b.State())
}

func TestDo_SuccessResetsFailureStreak(t *testing.T) {
	b := newTestBreaker()
	Do(context.Background(), b, failing)
	Do(context.Background(), b, failing)
	Do(context.Background(), b, succeeding)
	Do(context.Background(), b, failing)
	Do(context.Background(), b, failing)
	assert.Equal(t, StateClosed, b.State())
}

func TestDo_CancelledContextDoesNotCount(t *testing.T) {
	b := newTestBreaker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_, err := Do(ctx, b, failing)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, b.State())
}
