package ports

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
)

// SessionRecordRepository persists session state and its sub-session records
// outside process memory. Persistence is best-effort: callers log and carry on
// when it fails, the in-memory state stays authoritative.
type SessionRecordRepository interface {
	SaveSession(ctx context.Context, session *domain.Session) error
	DeleteSession(ctx context.Context, id domain.SessionID) error
	ActiveSessionIDs(ctx context.Context) ([]domain.SessionID, error)

	AppendMetrics(ctx context.Context, sample *domain.ConnectivityMetrics) error
	MetricsRange(ctx context.Context, id domain.SessionID, from, to time.Time) ([]*domain.ConnectivityMetrics, error)

	SaveRecording(ctx context.Context, rec *domain.RecordingSession) error
	SaveScreenShare(ctx context.Context, share *domain.ScreenShareSession) error
}
