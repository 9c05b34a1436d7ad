package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
)

// MemorySessionRepository is the fallback record store used when Redis is
// disabled. Retention is process-lifetime only, which matches the
// best-effort persistence contract.
type MemorySessionRepository struct {
	mu           sync.RWMutex
	sessions     map[domain.SessionID]*domain.Session
	metrics      map[domain.SessionID][]*domain.ConnectivityMetrics
	recordings   map[domain.SessionID]*domain.RecordingSession
	screenShares map[string]*domain.ScreenShareSession
}

func NewMemorySessionRepository() ports.SessionRecordRepository {
	return &MemorySessionRepository{
		sessions:     make(map[domain.SessionID]*domain.Session),
		metrics:      make(map[domain.SessionID][]*domain.ConnectivityMetrics),
		recordings:   make(map[domain.SessionID]*domain.RecordingSession),
		screenShares: make(map[string]*domain.ScreenShareSession),
	}
}

func (m *MemorySessionRepository) SaveSession(ctx context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *MemorySessionRepository) DeleteSession(ctx context.Context, id domain.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.metrics, id)
	delete(m.recordings, id)
	return nil
}

func (m *MemorySessionRepository) ActiveSessionIDs(ctx context.Context) ([]domain.SessionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]domain.SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemorySessionRepository) AppendMetrics(ctx context.Context, sample *domain.ConnectivityMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[sample.SessionID] = append(m.metrics[sample.SessionID], sample)
	return nil
}

func (m *MemorySessionRepository) MetricsRange(ctx context.Context, id domain.SessionID, from, to time.Time) ([]*domain.ConnectivityMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var samples []*domain.ConnectivityMetrics
	for _, sample := range m.metrics[id] {
		if !sample.Timestamp.Before(from) && !sample.Timestamp.After(to) {
			samples = append(samples, sample)
		}
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

func (m *MemorySessionRepository) SaveRecording(ctx context.Context, rec *domain.RecordingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings[rec.SessionID] = rec
	return nil
}

func (m *MemorySessionRepository) SaveScreenShare(ctx context.Context, share *domain.ScreenShareSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenShares[string(share.SessionID)+":"+string(share.UserID)] = share
	return nil
}
