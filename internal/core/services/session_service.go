package services

import (
	"context"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/utils"

	"go.uber.org/zap"
)

// SessionConfig bounds the reconnect and consent sub-protocols.
type SessionConfig struct {
	GraceTimeout         time.Duration
	MaxReconnectAttempts int
	ConsentExpiry        time.Duration
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		GraceTimeout:         30 * time.Second,
		MaxReconnectAttempts: 3,
		ConsentExpiry:        30 * time.Second,
	}
}

// sessionEntry pairs a live session with its own mutex and pending timers.
// Two messages referencing the same session id can never interleave their
// read-modify-write sequences: every mutation runs under entry.mu.
type sessionEntry struct {
	mu           sync.Mutex
	session      *domain.Session
	graceTimer   *time.Timer
	consentTimer *time.Timer
}

func (e *sessionEntry) cancelTimersLocked() {
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	if e.consentTimer != nil {
		e.consentTimer.Stop()
		e.consentTimer = nil
	}
}

// SessionService owns all active session aggregates and is the exclusive
// authority to mutate them. Lock order is always store mutex before entry
// mutex.
type SessionService struct {
	mu        sync.RWMutex
	sessions  map[domain.SessionID]*sessionEntry
	userIndex map[domain.UserID]domain.SessionID

	cfg       SessionConfig
	repo      ports.SessionRecordRepository
	messenger ports.Messenger
	events    ports.SessionEvents
	logger    *zap.SugaredLogger
}

func NewSessionService(cfg SessionConfig, repo ports.SessionRecordRepository, messenger ports.Messenger, logger *zap.SugaredLogger) *SessionService {
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = DefaultSessionConfig().GraceTimeout
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultSessionConfig().MaxReconnectAttempts
	}
	if cfg.ConsentExpiry <= 0 {
		cfg.ConsentExpiry = DefaultSessionConfig().ConsentExpiry
	}
	return &SessionService{
		sessions:  make(map[domain.SessionID]*sessionEntry),
		userIndex: make(map[domain.UserID]domain.SessionID),
		cfg:       cfg,
		repo:      repo,
		messenger: messenger,
		logger:    logger,
	}
}

// MaxReconnectAttempts exposes the configured reconnect ceiling.
func (s *SessionService) MaxReconnectAttempts() int {
	return s.cfg.MaxReconnectAttempts
}

// SetEvents attaches a lifecycle listener. Must be called before the service
// starts handling traffic.
func (s *SessionService) SetEvents(events ports.SessionEvents) {
	s.events = events
}

// Create allocates a new session in the connecting state. Fails when any
// participant already belongs to an active session.
func (s *SessionService) Create(ctx context.Context, chainID domain.ChainID, participants []domain.Participant, maxParticipants int, initiator domain.UserID) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range participants {
		if _, ok := s.userIndex[p.ID]; ok {
			return nil, domain.ErrAlreadyInSession
		}
	}

	now := utils.Now()
	session := &domain.Session{
		ID:              domain.SessionID(utils.GenerateSessionID()),
		ChainID:         chainID,
		Participants:    make(map[domain.UserID]*domain.SessionParticipant, len(participants)),
		State:           domain.StateConnecting,
		LastActivity:    now,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
	}
	for _, p := range participants {
		session.Participants[p.ID] = &domain.SessionParticipant{
			ID:               p.ID,
			Preferences:      p.Preferences,
			AudioOnlyMode:    p.Preferences.AudioOnly,
			NoiseSuppression: p.Preferences.NoiseSuppression,
			IsInitiator:      p.ID == initiator,
			JoinedAt:         now,
		}
		s.userIndex[p.ID] = session.ID
	}
	session.ParticipantCount = len(session.Participants)

	s.sessions[session.ID] = &sessionEntry{session: session}
	s.persist(ctx, session)

	return snapshot(session), nil
}

// Get returns a snapshot of the session; mutating it has no effect on stored
// state.
func (s *SessionService) Get(id domain.SessionID) (*domain.Session, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshot(entry.session), nil
}

// Update runs fn against the live session under its lock and refreshes the
// activity timestamp on success. fn must complete without blocking.
func (s *SessionService) Update(id domain.SessionID, fn func(*domain.Session) error) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := fn(entry.session); err != nil {
		return err
	}
	entry.session.LastActivity = utils.Now()
	s.persist(context.Background(), entry.session)
	return nil
}

// Join adds a participant, enforcing the capacity limit atomically with the
// insert.
func (s *SessionService) Join(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if existing, ok := s.userIndex[p.ID]; ok && existing != id {
		return nil, domain.ErrAlreadyInSession
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	session := entry.session
	if _, ok := session.Participants[p.ID]; ok {
		return snapshot(session), nil
	}
	if session.ParticipantCount >= session.MaxParticipants {
		return nil, domain.ErrCapacityExceeded
	}

	session.Participants[p.ID] = &domain.SessionParticipant{
		ID:               p.ID,
		Preferences:      p.Preferences,
		AudioOnlyMode:    p.Preferences.AudioOnly,
		NoiseSuppression: p.Preferences.NoiseSuppression,
		JoinedAt:         utils.Now(),
	}
	session.ParticipantCount = len(session.Participants)
	session.LastActivity = utils.Now()
	s.userIndex[p.ID] = id

	// A newcomer has not consented to any recording in flight.
	if session.Recording != nil && session.Recording.Status == domain.RecordingRequested {
		session.Recording.Consent[p.ID] = false
	}

	s.persist(ctx, session)
	return snapshot(session), nil
}

// Leave removes a participant and reports how many remain. The session is
// destroyed once empty.
func (s *SessionService) Leave(ctx context.Context, id domain.SessionID, userID domain.UserID) (int, error) {
	s.mu.Lock()

	entry, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return 0, domain.ErrSessionNotFound
	}

	entry.mu.Lock()
	session := entry.session
	if _, ok := session.Participants[userID]; !ok {
		entry.mu.Unlock()
		s.mu.Unlock()
		return session.ParticipantCount, domain.ErrParticipantNotFound
	}

	delete(session.Participants, userID)
	if session.Recording != nil {
		delete(session.Recording.Consent, userID)
	}
	session.ParticipantCount = len(session.Participants)
	session.LastActivity = utils.Now()
	delete(s.userIndex, userID)
	remaining := session.ParticipantCount

	if remaining == 0 {
		wasRecording := session.Recording != nil && session.Recording.Status == domain.RecordingActive
		entry.cancelTimersLocked()
		delete(s.sessions, id)
		entry.mu.Unlock()
		s.mu.Unlock()
		s.discard(ctx, session)
		if s.events != nil {
			s.events.SessionEnded(domain.ReasonAllParticipantsLeft, utils.Since(session.CreatedAt))
			if wasRecording {
				s.events.RecordingStopped()
			}
		}
		return 0, nil
	}

	// Persist a copy: the live session can be mutated under the entry lock
	// the moment it is released.
	reduced := snapshot(session)
	entry.mu.Unlock()
	s.mu.Unlock()
	s.persist(ctx, reduced)
	return remaining, nil
}

// End destroys the session and notifies every remaining participant with a
// machine-readable reason before state is discarded.
func (s *SessionService) End(ctx context.Context, id domain.SessionID, reason string) (*domain.Session, error) {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}

	entry.mu.Lock()
	session := entry.session
	entry.cancelTimersLocked()
	session.State = domain.StateDisconnected
	wasRecording := session.Recording != nil && session.Recording.Status == domain.RecordingActive
	if wasRecording {
		session.Recording.Status = domain.RecordingStopped
		session.Recording.EndedAt = utils.Now()
		session.IsRecording = false
	}
	delete(s.sessions, id)
	for userID := range session.Participants {
		delete(s.userIndex, userID)
	}
	final := snapshot(session)
	entry.mu.Unlock()
	s.mu.Unlock()

	for userID := range final.Participants {
		if err := s.messenger.SendEvent(userID, "session-ended", map[string]interface{}{
			"sessionId": final.ID,
			"reason":    reason,
		}); err != nil {
			s.logger.Debugw("session-ended notification failed",
				"session_id", final.ID,
				"user_id", userID,
				"error", err,
			)
		}
	}

	s.logger.Infow("session ended",
		"session_id", final.ID,
		"reason", reason,
		"participants", final.ParticipantCount,
		"duration", utils.Since(final.CreatedAt),
	)

	if s.events != nil {
		s.events.SessionEnded(reason, utils.Since(final.CreatedAt))
		if wasRecording {
			s.events.RecordingStopped()
		}
	}

	s.discard(ctx, session)
	return final, nil
}

// SessionOf resolves the active session holding a participant, if any.
func (s *SessionService) SessionOf(userID domain.UserID) (domain.SessionID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.userIndex[userID]
	return id, ok
}

// ActiveCount reports the number of live sessions.
func (s *SessionService) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ForEach visits a snapshot of every active session.
func (s *SessionService) ForEach(fn func(*domain.Session)) {
	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	for _, entry := range entries {
		entry.mu.Lock()
		snap := snapshot(entry.session)
		entry.mu.Unlock()
		fn(snap)
	}
}

func (s *SessionService) entry(id domain.SessionID) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return entry, nil
}

func (s *SessionService) persist(ctx context.Context, session *domain.Session) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveSession(ctx, session); err != nil {
		s.logger.Debugw("best-effort session persistence failed",
			"session_id", session.ID,
			"error", err,
		)
	}
}

func (s *SessionService) discard(ctx context.Context, session *domain.Session) {
	if s.repo == nil {
		return
	}
	if err := s.repo.DeleteSession(ctx, session.ID); err != nil {
		s.logger.Debugw("best-effort session cleanup failed",
			"session_id", session.ID,
			"error", err,
		)
	}
}

// snapshot copies the mutable parts of a session so callers outside the entry
// lock cannot race the live aggregate.
func snapshot(session *domain.Session) *domain.Session {
	copied := *session
	copied.Participants = make(map[domain.UserID]*domain.SessionParticipant, len(session.Participants))
	for id, p := range session.Participants {
		participant := *p
		copied.Participants[id] = &participant
	}
	if session.Recording != nil {
		rec := *session.Recording
		rec.Consent = make(map[domain.UserID]bool, len(session.Recording.Consent))
		for id, ok := range session.Recording.Consent {
			rec.Consent[id] = ok
		}
		copied.Recording = &rec
	}
	return &copied
}
