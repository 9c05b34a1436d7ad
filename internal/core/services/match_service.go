package services

import (
	"context"
	"sync"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/utils"

	"go.uber.org/zap"
)

const defaultMaxParticipants = 2

// MatchService keeps one FIFO waiting list per chain and drains it two at a
// time. Matching is strict arrival order: preferences ride along to brief the
// matched peer but never filter or reorder candidates.
type MatchService struct {
	mu     sync.Mutex
	queues map[domain.ChainID][]*domain.QueueEntry
	queued map[domain.UserID]domain.ChainID
	// pairing reserves the two dequeued ids while session creation is in
	// flight, so a concurrent re-join cannot slip between the queue and the
	// session index.
	pairing map[domain.UserID]struct{}

	sessions       ports.SessionStore
	configProvider ports.ConfigProvider
	logger         *zap.SugaredLogger
}

func NewMatchService(sessions ports.SessionStore, configProvider ports.ConfigProvider, logger *zap.SugaredLogger) *MatchService {
	return &MatchService{
		queues:         make(map[domain.ChainID][]*domain.QueueEntry),
		queued:         make(map[domain.UserID]domain.ChainID),
		pairing:        make(map[domain.UserID]struct{}),
		sessions:       sessions,
		configProvider: configProvider,
		logger:         logger,
	}
}

// Enqueue appends the entry to its chain's queue and pairs the two oldest
// entries when at least two are waiting. The entry added second becomes the
// initiator, which keeps SDP-glare risk on one deterministic side.
func (m *MatchService) Enqueue(ctx context.Context, entry domain.QueueEntry) (*ports.MatchResult, error) {
	userID := entry.Participant.ID

	if _, inSession := m.sessions.SessionOf(userID); inSession {
		return nil, domain.ErrAlreadyInSession
	}

	m.mu.Lock()
	if _, ok := m.queued[userID]; ok {
		m.mu.Unlock()
		return nil, domain.ErrAlreadyQueued
	}
	if _, ok := m.pairing[userID]; ok {
		m.mu.Unlock()
		return nil, domain.ErrAlreadyQueued
	}

	queue := append(m.queues[entry.ChainID], &entry)
	m.queued[userID] = entry.ChainID
	if len(queue) < 2 {
		m.queues[entry.ChainID] = queue
		m.mu.Unlock()
		return nil, nil
	}

	// Dequeue the two oldest entries before releasing the lock; connectivity
	// provisioning below may block on the TURN issuer.
	first, second := queue[0], queue[1]
	m.queues[entry.ChainID] = queue[2:]
	delete(m.queued, first.Participant.ID)
	delete(m.queued, second.Participant.ID)
	m.pairing[first.Participant.ID] = struct{}{}
	m.pairing[second.Participant.ID] = struct{}{}
	m.mu.Unlock()

	return m.pair(ctx, entry.ChainID, first, second)
}

func (m *MatchService) pair(ctx context.Context, chainID domain.ChainID, first, second *domain.QueueEntry) (*ports.MatchResult, error) {
	maxParticipants := minParticipantLimit(first.Participant.Preferences, second.Participant.Preferences)

	session, err := m.sessions.Create(ctx, chainID,
		[]domain.Participant{first.Participant, second.Participant},
		maxParticipants,
		second.Participant.ID,
	)
	if err != nil {
		// Requeue the first entry at the head so its position is preserved.
		m.mu.Lock()
		delete(m.pairing, first.Participant.ID)
		delete(m.pairing, second.Participant.ID)
		m.queues[chainID] = append([]*domain.QueueEntry{first}, m.queues[chainID]...)
		m.queued[first.Participant.ID] = chainID
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	delete(m.pairing, first.Participant.ID)
	delete(m.pairing, second.Participant.ID)
	m.mu.Unlock()

	connectivity := m.configProvider.GenerateConnectivityConfig(ctx)

	briefs := map[domain.UserID]ports.MatchBrief{
		first.Participant.ID: {
			SessionID:       session.ID,
			PeerID:          second.Participant.ID,
			IsInitiator:     false,
			PeerPreferences: second.Participant.Preferences,
			Connectivity:    connectivity,
			Media:           m.constraintsFor(first.Participant.Preferences),
		},
		second.Participant.ID: {
			SessionID:       session.ID,
			PeerID:          first.Participant.ID,
			IsInitiator:     true,
			PeerPreferences: first.Participant.Preferences,
			Connectivity:    connectivity,
			Media:           m.constraintsFor(second.Participant.Preferences),
		},
	}

	m.logger.Infow("participants matched",
		"session_id", session.ID,
		"chain_id", chainID,
		"first", first.Participant.ID,
		"second", second.Participant.ID,
		"max_participants", maxParticipants,
	)

	return &ports.MatchResult{
		Session: session,
		Briefs:  briefs,
		Waited:  utils.Since(first.EnqueuedAt),
	}, nil
}

func (m *MatchService) constraintsFor(prefs domain.Preferences) domain.MediaConstraints {
	tier := prefs.ConnectionQuality
	if tier == "" {
		tier = domain.QualityHigh
	}
	return m.configProvider.MediaConstraintsFor(tier, prefs.AudioOnly)
}

// Leave removes the participant from whatever queue holds it. No-op when the
// participant is not queued.
func (m *MatchService) Leave(userID domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chainID, ok := m.queued[userID]
	if !ok {
		return
	}
	delete(m.queued, userID)

	queue := m.queues[chainID]
	for i, entry := range queue {
		if entry.Participant.ID == userID {
			m.queues[chainID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(m.queues[chainID]) == 0 {
		delete(m.queues, chainID)
	}
}

// Position reports the 1-based queue position for a waiting participant, or 0
// when not queued.
func (m *MatchService) Position(userID domain.UserID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	chainID, ok := m.queued[userID]
	if !ok {
		return 0
	}
	for i, entry := range m.queues[chainID] {
		if entry.Participant.ID == userID {
			return i + 1
		}
	}
	return 0
}

// QueueDepths reports the number of waiting entries per chain.
func (m *MatchService) QueueDepths() map[domain.ChainID]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	depths := make(map[domain.ChainID]int, len(m.queues))
	for chainID, queue := range m.queues {
		depths[chainID] = len(queue)
	}
	return depths
}

func minParticipantLimit(a, b domain.Preferences) int {
	limit := func(p domain.Preferences) int {
		if p.MaxParticipants <= 0 {
			return defaultMaxParticipants
		}
		return p.MaxParticipants
	}
	la, lb := limit(a), limit(b)
	if la < lb {
		return la
	}
	return lb
}
