package domain

import (
	"time"
)

type SessionID string
type UserID string
type ChainID string
type RecordingID string

// ConnectionState is the externally observed state of a session's peer link.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

// End reasons delivered to remaining participants before session state is discarded.
const (
	ReasonPeerTimeout          = "peer-timeout"
	ReasonMaxReconnectAttempts = "max-reconnect-attempts"
	ReasonInactivity           = "inactivity-timeout"
	ReasonAllParticipantsLeft  = "all-participants-left"
	ReasonUserEnded            = "user-ended"
)

// Session is one matched pair/group's negotiation-and-call lifecycle,
// from match to end. All mutation goes through the session store.
type Session struct {
	ID                SessionID
	ChainID           ChainID
	Participants      map[UserID]*SessionParticipant
	State             ConnectionState
	ReconnectAttempts int
	LastActivity      time.Time
	ParticipantCount  int
	MaxParticipants   int
	IsRecording       bool
	Recording         *RecordingSession
	CreatedAt         time.Time
}

// SessionParticipant holds per-participant call flags. The transport itself
// is owned by the connection registry; the session only references identity.
type SessionParticipant struct {
	ID               UserID
	Preferences      Preferences
	ScreenSharing    bool
	AudioOnlyMode    bool
	NoiseSuppression bool
	IsInitiator      bool
	JoinedAt         time.Time
}

// RecordingSession tracks the consent handshake and recording lifecycle
// nested inside a session. Discarded with its session.
type RecordingSession struct {
	SessionID   SessionID              `json:"sessionId"`
	RequesterID UserID                 `json:"requesterId"`
	RecordingID RecordingID            `json:"recordingId"`
	Status      RecordingStatus        `json:"status"`
	Consent     map[UserID]bool        `json:"consent"`
	RequestedAt time.Time              `json:"requestedAt"`
	StartedAt   time.Time              `json:"startedAt,omitempty"`
	EndedAt     time.Time              `json:"endedAt,omitempty"`
}

type RecordingStatus string

const (
	RecordingRequested RecordingStatus = "requested"
	RecordingActive    RecordingStatus = "recording"
	RecordingStopped   RecordingStatus = "stopped"
)

// AllConsented reports whether every listed participant has an affirmative
// consent entry. Recording may start only when this holds for the session's
// current participant set.
func (r *RecordingSession) AllConsented(participants []UserID) bool {
	for _, id := range participants {
		if !r.Consent[id] {
			return false
		}
	}
	return true
}

// ScreenShareSession records one participant's screen-share span within a
// session. One per (session, user) pair, short-lived.
type ScreenShareSession struct {
	SessionID  SessionID `json:"sessionId"`
	UserID     UserID    `json:"userId"`
	IsSharing  bool      `json:"isSharing"`
	ScreenType string    `json:"screenType,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt,omitempty"`
}

// ParticipantIDs returns the current participant identifiers in no
// particular order.
func (s *Session) ParticipantIDs() []UserID {
	ids := make([]UserID, 0, len(s.Participants))
	for id := range s.Participants {
		ids = append(ids, id)
	}
	return ids
}

// PeersOf returns every participant except the given one.
func (s *Session) PeersOf(userID UserID) []UserID {
	peers := make([]UserID, 0, len(s.Participants))
	for id := range s.Participants {
		if id != userID {
			peers = append(peers, id)
		}
	}
	return peers
}
