package memory

import (
	"context"
	"testing"
	"time"

	"pairlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndDeleteSession(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveSession(ctx, &domain.Session{ID: "s-1"}))
	require.NoError(t, repo.SaveSession(ctx, &domain.Session{ID: "s-2"}))

	ids, err := repo.ActiveSessionIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.SessionID{"s-1", "s-2"}, ids)

	require.NoError(t, repo.DeleteSession(ctx, "s-1"))
	ids, err = repo.ActiveSessionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionID{"s-2"}, ids)
}

func TestMetricsRange_FiltersAndSorts(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	base := time.Now()

	for _, offset := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Hour} {
		require.NoError(t, repo.AppendMetrics(ctx, &domain.ConnectivityMetrics{
			SessionID: "s-1",
			UserID:    "alice",
			Timestamp: base.Add(offset),
		}))
	}
	// A different session never leaks into the range.
	require.NoError(t, repo.AppendMetrics(ctx, &domain.ConnectivityMetrics{
		SessionID: "s-2",
		Timestamp: base.Add(time.Minute),
	}))

	samples, err := repo.MetricsRange(ctx, "s-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, base.Add(time.Minute), samples[0].Timestamp)
	assert.Equal(t, base.Add(3*time.Minute), samples[1].Timestamp)
}

func TestDeleteSession_DropsMetrics(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.AppendMetrics(ctx, &domain.ConnectivityMetrics{SessionID: "s-1", Timestamp: now}))
	require.NoError(t, repo.DeleteSession(ctx, "s-1"))

	samples, err := repo.MetricsRange(ctx, "s-1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestSaveRecordingAndScreenShare(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveRecording(ctx, &domain.RecordingSession{
		SessionID:   "s-1",
		RecordingID: "rec-1",
		Status:      domain.RecordingActive,
	}))
	require.NoError(t, repo.SaveScreenShare(ctx, &domain.ScreenShareSession{
		SessionID: "s-1",
		UserID:    "alice",
		IsSharing: true,
	}))
}
