package services

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/utils"
)

// RequestRecording opens a consent handshake. The requester consents
// implicitly; every other current participant gets a pending entry that must
// flip to true before recording may start. An unanswered prompt expires after
// the configured window and counts as denial.
func (s *SessionService) RequestRecording(ctx context.Context, id domain.SessionID, requester domain.UserID) (*domain.RecordingSession, []domain.UserID, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, nil, err
	}

	entry.mu.Lock()
	session := entry.session
	if _, ok := session.Participants[requester]; !ok {
		entry.mu.Unlock()
		return nil, nil, domain.ErrParticipantNotFound
	}
	if session.Recording != nil && session.Recording.Status == domain.RecordingActive {
		rec := *session.Recording
		entry.mu.Unlock()
		return &rec, nil, nil
	}

	rec := &domain.RecordingSession{
		SessionID:   id,
		RequesterID: requester,
		RecordingID: domain.RecordingID(utils.GenerateRecordingID()),
		Status:      domain.RecordingRequested,
		Consent:     map[domain.UserID]bool{requester: true},
		RequestedAt: utils.Now(),
	}
	for peerID := range session.Participants {
		if peerID != requester {
			rec.Consent[peerID] = false
		}
	}
	session.Recording = rec
	session.LastActivity = utils.Now()
	peers := session.PeersOf(requester)

	if entry.consentTimer != nil {
		entry.consentTimer.Stop()
	}
	entry.consentTimer = s.scheduleConsentExpiry(id, rec.RecordingID)
	snap := *rec
	entry.mu.Unlock()

	s.persistRecording(ctx, &snap)
	return &snap, peers, nil
}

func (s *SessionService) scheduleConsentExpiry(id domain.SessionID, recordingID domain.RecordingID) *time.Timer {
	return time.AfterFunc(s.cfg.ConsentExpiry, func() {
		entry, err := s.entry(id)
		if err != nil {
			return
		}

		entry.mu.Lock()
		session := entry.session
		rec := session.Recording
		if rec == nil || rec.RecordingID != recordingID || rec.Status != domain.RecordingRequested {
			entry.mu.Unlock()
			return
		}
		rec.Status = domain.RecordingStopped
		rec.EndedAt = utils.Now()
		requester := rec.RequesterID
		snap := *rec
		entry.mu.Unlock()

		if err := s.messenger.SendEvent(requester, "recording-consent-response", map[string]interface{}{
			"sessionId":   id,
			"recordingId": recordingID,
			"consented":   false,
			"expired":     true,
		}); err != nil {
			s.logger.Debugw("consent expiry notification failed",
				"session_id", id,
				"user_id", requester,
				"error", err,
			)
		}
		s.persistRecording(context.Background(), &snap)
	})
}

// RecordConsent stores one participant's recording consent decision and
// reports whether every current participant has now consented.
func (s *SessionService) RecordConsent(ctx context.Context, id domain.SessionID, userID domain.UserID, consent bool) (*domain.RecordingSession, bool, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, false, err
	}

	entry.mu.Lock()
	session := entry.session
	rec := session.Recording
	if rec == nil {
		entry.mu.Unlock()
		return nil, false, domain.ErrNoRecordingRequested
	}
	if _, ok := session.Participants[userID]; !ok {
		entry.mu.Unlock()
		return nil, false, domain.ErrParticipantNotFound
	}

	rec.Consent[userID] = consent
	session.LastActivity = utils.Now()
	all := rec.AllConsented(session.ParticipantIDs())
	if all && entry.consentTimer != nil {
		entry.consentTimer.Stop()
		entry.consentTimer = nil
	}
	snap := *rec
	entry.mu.Unlock()

	s.persistRecording(ctx, &snap)
	return &snap, all, nil
}

// StartRecording honors a recording-start request only when every current
// participant's consent entry is true.
func (s *SessionService) StartRecording(ctx context.Context, id domain.SessionID) (*domain.RecordingSession, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	session := entry.session
	rec := session.Recording
	if rec == nil {
		entry.mu.Unlock()
		return nil, domain.ErrNoRecordingRequested
	}
	if !rec.AllConsented(session.ParticipantIDs()) {
		entry.mu.Unlock()
		return nil, domain.ErrConsentIncomplete
	}

	rec.Status = domain.RecordingActive
	rec.StartedAt = utils.Now()
	session.IsRecording = true
	session.LastActivity = utils.Now()
	snap := *rec
	entry.mu.Unlock()

	if s.events != nil {
		s.events.RecordingStarted()
	}
	s.persistRecording(ctx, &snap)
	return &snap, nil
}

// StopRecording ends an active recording. Stopping a recording that never
// started is not an error; the stopped record is returned either way.
func (s *SessionService) StopRecording(ctx context.Context, id domain.SessionID) (*domain.RecordingSession, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	session := entry.session
	rec := session.Recording
	if rec == nil {
		entry.mu.Unlock()
		return nil, domain.ErrNoRecordingRequested
	}

	wasActive := rec.Status == domain.RecordingActive
	rec.Status = domain.RecordingStopped
	rec.EndedAt = utils.Now()
	session.IsRecording = false
	session.LastActivity = utils.Now()
	snap := *rec
	entry.mu.Unlock()

	if wasActive && s.events != nil {
		s.events.RecordingStopped()
	}
	s.persistRecording(ctx, &snap)
	return &snap, nil
}

func (s *SessionService) persistRecording(ctx context.Context, rec *domain.RecordingSession) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveRecording(ctx, rec); err != nil {
		s.logger.Debugw("best-effort recording persistence failed",
			"session_id", rec.SessionID,
			"recording_id", rec.RecordingID,
			"error", err,
		)
	}
}

var _ ports.SessionStore = (*SessionService)(nil)
