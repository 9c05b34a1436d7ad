package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newSessionFixture(t *testing.T, cfg SessionConfig) (*SessionService, *recordingMessenger) {
	messenger := newRecordingMessenger()
	svc := NewSessionService(cfg, nil, messenger, zaptest.NewLogger(t).Sugar())
	return svc, messenger
}

func pairParticipants(a, b string) []domain.Participant {
	return []domain.Participant{
		{ID: domain.UserID(a)},
		{ID: domain.UserID(b)},
	}
}

func mustCreate(t *testing.T, svc *SessionService, a, b string) *domain.Session {
	t.Helper()
	session, err := svc.Create(context.Background(), "chain-a", pairParticipants(a, b), 2, domain.UserID(b))
	require.NoError(t, err)
	return session
}

func TestCreate_AssignsInitiatorAndCounts(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())

	session := mustCreate(t, svc, "alice", "bob")

	assert.Equal(t, domain.StateConnecting, session.State)
	assert.Equal(t, 2, session.ParticipantCount)
	assert.Len(t, session.Participants, session.ParticipantCount)
	assert.False(t, session.Participants["alice"].IsInitiator)
	assert.True(t, session.Participants["bob"].IsInitiator)
	assert.Equal(t, 1, svc.ActiveCount())
}

func TestCreate_RejectsParticipantAlreadyInSession(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	mustCreate(t, svc, "alice", "bob")

	_, err := svc.Create(context.Background(), "chain-a", pairParticipants("alice", "carol"), 2, "carol")
	assert.ErrorIs(t, err, domain.ErrAlreadyInSession)
}

func TestGet_ReturnsIsolatedSnapshot(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	snap, err := svc.Get(session.ID)
	require.NoError(t, err)
	snap.Participants["alice"].ScreenSharing = true

	fresh, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.False(t, fresh.Participants["alice"].ScreenSharing)
}

func TestUpdate_MutatesUnderLockAndRefreshesActivity(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	before, err := svc.Get(session.ID)
	require.NoError(t, err)

	err = svc.Update(session.ID, func(s *domain.Session) error {
		s.State = domain.StateConnected
		return nil
	})
	require.NoError(t, err)

	after, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateConnected, after.State)
	assert.False(t, after.LastActivity.Before(before.LastActivity))
}

func TestJoin_EnforcesCapacity(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	_, err := svc.Join(context.Background(), session.ID, domain.Participant{ID: "carol"})
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestJoin_AddsParticipantWithinCapacity(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session, err := svc.Create(context.Background(), "chain-a", pairParticipants("alice", "bob"), 4, "bob")
	require.NoError(t, err)

	joined, err := svc.Join(context.Background(), session.ID, domain.Participant{ID: "carol"})
	require.NoError(t, err)
	assert.Equal(t, 3, joined.ParticipantCount)
	assert.Len(t, joined.Participants, 3)

	sid, ok := svc.SessionOf("carol")
	require.True(t, ok)
	assert.Equal(t, session.ID, sid)
}

func TestLeave_DestroysEmptySession(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	remaining, err := svc.Leave(context.Background(), session.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	remaining, err = svc.Leave(context.Background(), session.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = svc.Get(session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, 0, svc.ActiveCount())
}

func TestEnd_NotifiesEveryParticipantWithReason(t *testing.T) {
	svc, messenger := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	final, err := svc.End(context.Background(), session.ID, domain.ReasonUserEnded)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisconnected, final.State)

	assert.Contains(t, messenger.eventsFor("alice"), "session-ended")
	assert.Contains(t, messenger.eventsFor("bob"), "session-ended")

	_, ok := svc.SessionOf("alice")
	assert.False(t, ok, "user index must be cleared")
}

func TestMarkPeerDisconnected_StartsGraceAndExpires(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.GraceTimeout = 30 * time.Millisecond
	svc, messenger := newSessionFixture(t, cfg)
	session := mustCreate(t, svc, "alice", "bob")

	id, ok := svc.MarkPeerDisconnected(context.Background(), "alice")
	require.True(t, ok)
	assert.Equal(t, session.ID, id)

	current, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReconnecting, current.State)
	assert.Contains(t, messenger.eventsFor("bob"), "peer-disconnected")

	require.Eventually(t, func() bool {
		_, err := svc.Get(session.ID)
		return err != nil
	}, time.Second, 10*time.Millisecond, "grace expiry must destroy the session")

	assert.Contains(t, messenger.eventsFor("bob"), "session-ended")
}

func TestMarkPeerReconnected_CancelsGraceTimer(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.GraceTimeout = 40 * time.Millisecond
	svc, _ := newSessionFixture(t, cfg)
	session := mustCreate(t, svc, "alice", "bob")

	_, ok := svc.MarkPeerDisconnected(context.Background(), "alice")
	require.True(t, ok)

	_, ok = svc.MarkPeerReconnected(context.Background(), "alice")
	require.True(t, ok)

	current, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateConnected, current.State)

	// Well past the original grace window the session must still exist.
	time.Sleep(80 * time.Millisecond)
	_, err = svc.Get(session.ID)
	assert.NoError(t, err)
}

func TestRegisterICERestart_EnforcesBudget(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	for i := 1; i <= 3; i++ {
		attempts, err := svc.RegisterICERestart(context.Background(), session.ID)
		require.NoError(t, err)
		assert.Equal(t, i, attempts)
	}

	_, err := svc.RegisterICERestart(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrReconnectLimitExceeded)

	_, err = svc.Get(session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "session must end once the budget is exhausted")
}

func TestRecordingConsentFlow(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	rec, pending, err := svc.RequestRecording(context.Background(), session.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingRequested, rec.Status)
	assert.True(t, rec.Consent["alice"], "requester consents implicitly")
	assert.False(t, rec.Consent["bob"])
	assert.Equal(t, []domain.UserID{"bob"}, pending)

	// Starting before full consent fails.
	_, err = svc.StartRecording(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrConsentIncomplete)

	_, all, err := svc.RecordConsent(context.Background(), session.ID, "bob", true)
	require.NoError(t, err)
	assert.True(t, all)

	started, err := svc.StartRecording(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingActive, started.Status)

	current, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.True(t, current.IsRecording)

	stopped, err := svc.StopRecording(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordingStopped, stopped.Status)
}

func TestRecordingConsent_DenialBlocksStart(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	_, _, err := svc.RequestRecording(context.Background(), session.ID, "alice")
	require.NoError(t, err)

	_, all, err := svc.RecordConsent(context.Background(), session.ID, "bob", false)
	require.NoError(t, err)
	assert.False(t, all)

	_, err = svc.StartRecording(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrConsentIncomplete)
}

func TestRecordingConsent_ExpiryCountsAsDenial(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.ConsentExpiry = 30 * time.Millisecond
	svc, messenger := newSessionFixture(t, cfg)
	session := mustCreate(t, svc, "alice", "bob")

	_, _, err := svc.RequestRecording(context.Background(), session.ID, "alice")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := svc.Get(session.ID)
		if err != nil {
			return false
		}
		return current.Recording != nil && current.Recording.Status == domain.RecordingStopped
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, messenger.eventsFor("alice"), "recording-consent-response")

	_, err = svc.StartRecording(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrConsentIncomplete)
}

func TestStartRecording_WithoutRequestFails(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session := mustCreate(t, svc, "alice", "bob")

	_, err := svc.StartRecording(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrNoRecordingRequested)
}

func TestJoin_PendingRecordingRequiresNewcomerConsent(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	session, err := svc.Create(context.Background(), "chain-a", pairParticipants("alice", "bob"), 4, "bob")
	require.NoError(t, err)

	_, _, err = svc.RequestRecording(context.Background(), session.ID, "alice")
	require.NoError(t, err)
	_, all, err := svc.RecordConsent(context.Background(), session.ID, "bob", true)
	require.NoError(t, err)
	require.True(t, all)

	_, err = svc.Join(context.Background(), session.ID, domain.Participant{ID: "carol"})
	require.NoError(t, err)

	// Carol has not consented, so the handshake is incomplete again.
	_, err = svc.StartRecording(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrConsentIncomplete)
}

// lifecycleRecorder captures monitoring callbacks for assertions.
type lifecycleRecorder struct {
	mu      sync.Mutex
	ended   []string
	stopped int
}

func (r *lifecycleRecorder) SessionEnded(reason string, lifetime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, reason)
}

func (r *lifecycleRecorder) ICERestartGranted() {}
func (r *lifecycleRecorder) RecordingStarted()  {}

func (r *lifecycleRecorder) RecordingStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}

func (r *lifecycleRecorder) endedReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

// capturingRepo records every saved session so tests can inspect what was
// persisted.
type capturingRepo struct {
	ports.SessionRecordRepository
	mu    sync.Mutex
	saved []*domain.Session
}

func (r *capturingRepo) SaveSession(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, session)
	return nil
}

func (r *capturingRepo) DeleteSession(ctx context.Context, id domain.SessionID) error { return nil }

func (r *capturingRepo) lastSaved() *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil
	}
	return r.saved[len(r.saved)-1]
}

func TestLeave_PersistsSnapshotNotLiveSession(t *testing.T) {
	repo := &capturingRepo{}
	messenger := newRecordingMessenger()
	svc := NewSessionService(DefaultSessionConfig(), repo, messenger, zaptest.NewLogger(t).Sugar())
	session, err := svc.Create(context.Background(), "chain-a", pairParticipants("alice", "bob"), 4, "bob")
	require.NoError(t, err)

	_, err = svc.Leave(context.Background(), session.ID, "alice")
	require.NoError(t, err)

	saved := repo.lastSaved()
	require.NotNil(t, saved)
	assert.Len(t, saved.Participants, 1)

	// The persisted record is decoupled from the live session: later
	// mutations must not reach into it.
	require.NoError(t, svc.Update(session.ID, func(s *domain.Session) error {
		s.Participants["bob"].ScreenSharing = true
		return nil
	}))
	assert.False(t, saved.Participants["bob"].ScreenSharing)
}

func TestLeave_EmptiedSessionReportsEnded(t *testing.T) {
	svc, _ := newSessionFixture(t, DefaultSessionConfig())
	recorder := &lifecycleRecorder{}
	svc.SetEvents(recorder)
	session := mustCreate(t, svc, "alice", "bob")

	_, err := svc.Leave(context.Background(), session.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, recorder.endedReasons())

	remaining, err := svc.Leave(context.Background(), session.ID, "bob")
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.Equal(t, []string{domain.ReasonAllParticipantsLeft}, recorder.endedReasons())
}
