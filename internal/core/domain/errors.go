package domain

import "errors"

var (
	ErrSessionNotFound         = errors.New("session not found")
	ErrParticipantNotFound     = errors.New("participant not found in session")
	ErrPeerUnreachable         = errors.New("peer transport unreachable")
	ErrCapacityExceeded        = errors.New("session participant capacity reached")
	ErrReconnectLimitExceeded  = errors.New("max reconnect attempts exceeded")
	ErrAlreadyQueued           = errors.New("participant already queued")
	ErrAlreadyInSession        = errors.New("participant already in an active session")
	ErrConsentIncomplete       = errors.New("not all participants consented to recording")
	ErrNoRecordingRequested    = errors.New("no recording has been requested")
	ErrSessionEnded            = errors.New("session has ended")
)
