package services

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/pkg/utils"
)

// MarkPeerDisconnected is invoked when a participant's transport is lost. The
// session moves to reconnecting, remaining participants are told, and a grace
// timer starts. The timer holds only the session id and re-resolves state
// when it fires, so a session destroyed in the meantime is left alone.
func (s *SessionService) MarkPeerDisconnected(ctx context.Context, userID domain.UserID) (domain.SessionID, bool) {
	id, ok := s.SessionOf(userID)
	if !ok {
		return "", false
	}
	entry, err := s.entry(id)
	if err != nil {
		return "", false
	}

	entry.mu.Lock()
	session := entry.session
	if _, stillThere := session.Participants[userID]; !stillThere {
		entry.mu.Unlock()
		return "", false
	}
	session.State = domain.StateReconnecting
	session.LastActivity = utils.Now()
	peers := session.PeersOf(userID)

	if entry.graceTimer != nil {
		entry.graceTimer.Stop()
	}
	entry.graceTimer = s.scheduleGraceExpiry(id)
	entry.mu.Unlock()

	for _, peerID := range peers {
		if err := s.messenger.SendEvent(peerID, "peer-disconnected", map[string]interface{}{
			"sessionId":    id,
			"peerId":       userID,
			"graceTimeout": s.cfg.GraceTimeout.Seconds(),
		}); err != nil {
			s.logger.Debugw("peer-disconnected notification failed",
				"session_id", id,
				"peer_id", peerID,
				"error", err,
			)
		}
	}

	s.logger.Infow("participant transport lost, grace timer started",
		"session_id", id,
		"user_id", userID,
		"grace_timeout", s.cfg.GraceTimeout,
	)
	return id, true
}

func (s *SessionService) scheduleGraceExpiry(id domain.SessionID) *time.Timer {
	return time.AfterFunc(s.cfg.GraceTimeout, func() {
		entry, err := s.entry(id)
		if err != nil {
			return
		}
		entry.mu.Lock()
		expired := entry.session.State == domain.StateReconnecting
		entry.mu.Unlock()
		if !expired {
			return
		}
		if _, err := s.End(context.Background(), id, domain.ReasonPeerTimeout); err != nil {
			s.logger.Debugw("grace expiry on already-destroyed session", "session_id", id)
		}
	})
}

// MarkPeerReconnected restores a reconnecting session to connected when the
// disconnected participant's transport reappears under the same identifier
// inside the grace window.
func (s *SessionService) MarkPeerReconnected(ctx context.Context, userID domain.UserID) (domain.SessionID, bool) {
	id, ok := s.SessionOf(userID)
	if !ok {
		return "", false
	}
	entry, err := s.entry(id)
	if err != nil {
		return "", false
	}

	entry.mu.Lock()
	session := entry.session
	if _, stillThere := session.Participants[userID]; !stillThere {
		entry.mu.Unlock()
		return "", false
	}
	if session.State == domain.StateReconnecting {
		session.State = domain.StateConnected
	}
	session.LastActivity = utils.Now()
	if entry.graceTimer != nil {
		entry.graceTimer.Stop()
		entry.graceTimer = nil
	}
	entry.mu.Unlock()

	s.logger.Infow("participant reconnected inside grace window",
		"session_id", id,
		"user_id", userID,
	)
	return id, true
}

// RegisterICERestart counts one ICE-restart cycle against the session's
// reconnect budget. When the budget is exhausted the session is ended with an
// explicit reason and ErrReconnectLimitExceeded is returned.
func (s *SessionService) RegisterICERestart(ctx context.Context, id domain.SessionID) (int, error) {
	entry, err := s.entry(id)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	entry.session.ReconnectAttempts++
	attempts := entry.session.ReconnectAttempts
	entry.session.LastActivity = utils.Now()
	entry.mu.Unlock()

	if attempts > s.cfg.MaxReconnectAttempts {
		if _, endErr := s.End(ctx, id, domain.ReasonMaxReconnectAttempts); endErr != nil {
			return attempts, endErr
		}
		return attempts, domain.ErrReconnectLimitExceeded
	}
	if s.events != nil {
		s.events.ICERestartGranted()
	}
	return attempts, nil
}
