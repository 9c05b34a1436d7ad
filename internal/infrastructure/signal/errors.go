package signal

import (
	"errors"
	"time"

	"pairlink/internal/core/domain"
)

type malformedError struct{ msg string }

func (e *malformedError) Error() string { return e.msg }

func errMalformed(msg string) error { return &malformedError{msg: msg} }

// errorCode maps an error to the wire taxonomy delivered on error envelopes.
func errorCode(err error) string {
	var malformed *malformedError
	switch {
	case errors.As(err, &malformed):
		return "MALFORMED_MESSAGE"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, domain.ErrReconnectLimitExceeded):
		return "RECONNECT_LIMIT_EXCEEDED"
	case errors.Is(err, domain.ErrAlreadyQueued):
		return "ALREADY_QUEUED"
	case errors.Is(err, domain.ErrAlreadyInSession):
		return "ALREADY_IN_SESSION"
	case errors.Is(err, domain.ErrConsentIncomplete):
		return "CONSENT_REQUIRED"
	case errors.Is(err, domain.ErrNoRecordingRequested):
		return "NO_RECORDING_REQUESTED"
	case errors.Is(err, domain.ErrParticipantNotFound):
		return "PARTICIPANT_NOT_FOUND"
	case errors.Is(err, domain.ErrPeerUnreachable):
		return "PEER_UNREACHABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

func (r *Router) replyError(userID domain.UserID, env *Envelope, err error) {
	code := errorCode(err)
	r.logger.Infow("message handling failed",
		"type", env.Type,
		"user_id", userID,
		"session_id", env.SessionID,
		"code", code,
		"error", err,
	)
	r.sendError(userID, env.SessionID, code, err.Error())
}

func (r *Router) sendError(userID domain.UserID, sessionID domain.SessionID, code, message string) {
	if r.stats != nil {
		r.stats.ErrorSent(code)
	}
	transport, ok := r.registry.Get(userID)
	if !ok {
		return
	}
	transport.SendJSON(&Envelope{
		Type:      TypeError,
		SessionID: sessionID,
		UserID:    userID,
		Data:      mustJSON(map[string]interface{}{"code": code, "message": message}),
		Timestamp: time.Now().UnixMilli(),
	})
}
