package ports

import (
	"context"
	"time"

	"pairlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// ConfigProvider issues connectivity configuration and adaptive media policy.
type ConfigProvider interface {
	GenerateConnectivityConfig(ctx context.Context) *domain.ConnectivityConfig
	ComputeOptimalBitrate(metrics *domain.ConnectivityMetrics) int
	MediaConstraintsFor(tier domain.ConnectionQuality, audioOnly bool) domain.MediaConstraints
}

// TURNCredentialProvider fetches short-lived TURN relay credentials from a
// remote issuer. Errors are non-fatal; callers fall back to STUN-only.
type TURNCredentialProvider interface {
	FetchCredentials(ctx context.Context) ([]webrtc.ICEServer, error)
}

// SessionEvents receives session lifecycle notifications for monitoring.
// Implementations must not block.
type SessionEvents interface {
	SessionEnded(reason string, lifetime time.Duration)
	ICERestartGranted()
	RecordingStarted()
	RecordingStopped()
}

// MatchBrief is what one side of a fresh match is told about its session.
type MatchBrief struct {
	SessionID       domain.SessionID
	PeerID          domain.UserID
	IsInitiator     bool
	PeerPreferences domain.Preferences
	Connectivity    *domain.ConnectivityConfig
	Media           domain.MediaConstraints
}

// MatchResult is produced when an enqueue completes a pair. Waited is how
// long the longest-waiting entrant sat in the queue.
type MatchResult struct {
	Session *domain.Session
	Briefs  map[domain.UserID]MatchBrief
	Waited  time.Duration
}

// Matchmaker drains chain-scoped FIFO queues two at a time.
type Matchmaker interface {
	// Enqueue appends the entry to its chain's queue. When the queue already
	// held a waiting entry the two oldest are matched and a MatchResult is
	// returned; otherwise the result is nil and the entry waits.
	Enqueue(ctx context.Context, entry domain.QueueEntry) (*MatchResult, error)
	// Leave removes the participant from whatever queue holds it. No-op if
	// absent.
	Leave(userID domain.UserID)
	// Position reports the 1-based queue position, or 0 when not queued.
	Position(userID domain.UserID) int
	// QueueDepths reports the number of waiting entries per chain.
	QueueDepths() map[domain.ChainID]int
}

// SessionStore owns all active session aggregates. It is the only authority
// allowed to mutate session state; every mutating method serializes access
// per session id.
type SessionStore interface {
	Create(ctx context.Context, chainID domain.ChainID, participants []domain.Participant, maxParticipants int, initiator domain.UserID) (*domain.Session, error)
	// Get returns a deep-enough snapshot for reads; mutating it has no effect
	// on stored state.
	Get(id domain.SessionID) (*domain.Session, error)
	// Update runs fn against the live session under its lock. fn must not
	// block; a non-nil error from fn aborts the update and is returned.
	Update(id domain.SessionID, fn func(*domain.Session) error) error
	Join(ctx context.Context, id domain.SessionID, p domain.Participant) (*domain.Session, error)
	// Leave removes the participant and reports how many remain. When zero
	// remain the session has already been destroyed on return.
	Leave(ctx context.Context, id domain.SessionID, userID domain.UserID) (remaining int, err error)
	// End destroys the session, cancels its timers and returns the final
	// snapshot so callers can notify participants.
	End(ctx context.Context, id domain.SessionID, reason string) (*domain.Session, error)
	SessionOf(userID domain.UserID) (domain.SessionID, bool)
	ActiveCount() int
	// ForEach visits a snapshot of every active session.
	ForEach(fn func(*domain.Session))

	// Reconnect sub-protocol. MarkPeerDisconnected starts the bounded grace
	// window; MarkPeerReconnected cancels it; RegisterICERestart counts one
	// restart cycle against the budget and ends the session past the limit.
	MarkPeerDisconnected(ctx context.Context, userID domain.UserID) (domain.SessionID, bool)
	MarkPeerReconnected(ctx context.Context, userID domain.UserID) (domain.SessionID, bool)
	RegisterICERestart(ctx context.Context, id domain.SessionID) (int, error)
	MaxReconnectAttempts() int

	// Recording consent handshake.
	RequestRecording(ctx context.Context, id domain.SessionID, requester domain.UserID) (*domain.RecordingSession, []domain.UserID, error)
	RecordConsent(ctx context.Context, id domain.SessionID, userID domain.UserID, consent bool) (*domain.RecordingSession, bool, error)
	StartRecording(ctx context.Context, id domain.SessionID) (*domain.RecordingSession, error)
	StopRecording(ctx context.Context, id domain.SessionID) (*domain.RecordingSession, error)
}

// Messenger delivers an event to a participant's live transport. Implemented
// by the signaling layer over the connection registry.
type Messenger interface {
	SendEvent(userID domain.UserID, event string, data interface{}) error
}
