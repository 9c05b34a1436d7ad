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

// recordingMessenger captures events per user for assertions.
type recordingMessenger struct {
	mu     sync.Mutex
	events map[domain.UserID][]string
}

func newRecordingMessenger() *recordingMessenger {
	return &recordingMessenger{events: make(map[domain.UserID][]string)}
}

func (m *recordingMessenger) SendEvent(userID domain.UserID, event string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[userID] = append(m.events[userID], event)
	return nil
}

func (m *recordingMessenger) eventsFor(userID domain.UserID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events[userID]...)
}

func newMatchFixture(t *testing.T) (*MatchService, *SessionService) {
	logger := zaptest.NewLogger(t).Sugar()
	sessions := NewSessionService(DefaultSessionConfig(), nil, newRecordingMessenger(), logger)
	config := NewConfigProviderService(nil, ConfigProviderOptions{}, logger)
	return NewMatchService(sessions, config, logger), sessions
}

func entryFor(userID string, chainID string) domain.QueueEntry {
	return domain.QueueEntry{
		Participant: domain.Participant{ID: domain.UserID(userID)},
		ChainID:     domain.ChainID(chainID),
		EnqueuedAt:  time.Now(),
	}
}

func TestEnqueue_FirstWaits(t *testing.T) {
	matcher, _ := newMatchFixture(t)

	result, err := matcher.Enqueue(context.Background(), entryFor("alice", "chain-a"))
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, matcher.Position("alice"))
}

func TestEnqueue_SecondArrivalPairsFIFO(t *testing.T) {
	matcher, sessions := newMatchFixture(t)
	ctx := context.Background()

	_, err := matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	require.NoError(t, err)

	result, err := matcher.Enqueue(ctx, entryFor("bob", "chain-a"))
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Len(t, result.Briefs, 2)
	aliceBrief := result.Briefs["alice"]
	bobBrief := result.Briefs["bob"]

	// The second arrival initiates; exactly one side initiates.
	assert.False(t, aliceBrief.IsInitiator)
	assert.True(t, bobBrief.IsInitiator)
	assert.Equal(t, domain.UserID("bob"), aliceBrief.PeerID)
	assert.Equal(t, domain.UserID("alice"), bobBrief.PeerID)
	require.NotNil(t, aliceBrief.Connectivity)

	// Both are out of the queue and in the same session.
	assert.Equal(t, 0, matcher.Position("alice"))
	assert.Equal(t, 0, matcher.Position("bob"))
	sid, ok := sessions.SessionOf("alice")
	require.True(t, ok)
	assert.Equal(t, result.Session.ID, sid)
	assert.Equal(t, domain.StateConnecting, result.Session.State)
}

func TestEnqueue_ChainsAreIsolated(t *testing.T) {
	matcher, _ := newMatchFixture(t)
	ctx := context.Background()

	_, err := matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	require.NoError(t, err)

	result, err := matcher.Enqueue(ctx, entryFor("bob", "chain-b"))
	require.NoError(t, err)
	assert.Nil(t, result, "different chains never match")

	depths := matcher.QueueDepths()
	assert.Equal(t, 1, depths["chain-a"])
	assert.Equal(t, 1, depths["chain-b"])
}

func TestEnqueue_ThreeUsersLeaveThirdWaiting(t *testing.T) {
	matcher, _ := newMatchFixture(t)
	ctx := context.Background()

	_, err := matcher.Enqueue(ctx, entryFor("u1", "chain-a"))
	require.NoError(t, err)
	result, err := matcher.Enqueue(ctx, entryFor("u2", "chain-a"))
	require.NoError(t, err)
	require.NotNil(t, result)

	third, err := matcher.Enqueue(ctx, entryFor("u3", "chain-a"))
	require.NoError(t, err)
	assert.Nil(t, third)
	assert.Equal(t, 1, matcher.Position("u3"))
}

func TestEnqueue_RejectsDoubleQueue(t *testing.T) {
	matcher, _ := newMatchFixture(t)
	ctx := context.Background()

	_, err := matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	require.NoError(t, err)

	_, err = matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	assert.ErrorIs(t, err, domain.ErrAlreadyQueued)

	_, err = matcher.Enqueue(ctx, entryFor("alice", "chain-b"))
	assert.ErrorIs(t, err, domain.ErrAlreadyQueued, "one queue per user across all chains")
}

func TestEnqueue_RejectsUserAlreadyInSession(t *testing.T) {
	matcher, _ := newMatchFixture(t)
	ctx := context.Background()

	_, err := matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	require.NoError(t, err)
	result, err := matcher.Enqueue(ctx, entryFor("bob", "chain-a"))
	require.NoError(t, err)
	require.NotNil(t, result)

	_, err = matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	assert.ErrorIs(t, err, domain.ErrAlreadyInSession)
}

func TestLeave_IsIdempotent(t *testing.T) {
	matcher, _ := newMatchFixture(t)
	ctx := context.Background()

	_, err := matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	require.NoError(t, err)

	matcher.Leave("alice")
	assert.Equal(t, 0, matcher.Position("alice"))

	// Leaving again, and leaving someone never queued, are both no-ops.
	matcher.Leave("alice")
	matcher.Leave("ghost")
	assert.Equal(t, 0, matcher.QueueDepths()["chain-a"])
}

func TestLeave_PreservesOrderOfOthers(t *testing.T) {
	matcher, sessions := newMatchFixture(t)
	ctx := context.Background()

	_, err := matcher.Enqueue(ctx, entryFor("u1", "chain-a"))
	require.NoError(t, err)
	matcher.Leave("u1")

	_, err = matcher.Enqueue(ctx, entryFor("u2", "chain-a"))
	require.NoError(t, err)
	result, err := matcher.Enqueue(ctx, entryFor("u3", "chain-a"))
	require.NoError(t, err)
	require.NotNil(t, result, "u2 and u3 should match once u1 has left")

	_, ok := sessions.SessionOf("u1")
	assert.False(t, ok)
}

func TestMatch_UsesSmallerParticipantLimit(t *testing.T) {
	matcher, sessions := newMatchFixture(t)
	ctx := context.Background()

	first := entryFor("alice", "chain-a")
	first.Participant.Preferences.MaxParticipants = 4
	second := entryFor("bob", "chain-a")
	second.Participant.Preferences.MaxParticipants = 3

	_, err := matcher.Enqueue(ctx, first)
	require.NoError(t, err)
	result, err := matcher.Enqueue(ctx, second)
	require.NoError(t, err)
	require.NotNil(t, result)

	session, err := sessions.Get(result.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, session.MaxParticipants)
}

// gatedStore parks Create until released, holding the pairing window open so
// concurrent enqueues can be interleaved deterministically.
type gatedStore struct {
	ports.SessionStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Create(ctx context.Context, chainID domain.ChainID, participants []domain.Participant, maxParticipants int, initiator domain.UserID) (*domain.Session, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.SessionStore.Create(ctx, chainID, participants, maxParticipants, initiator)
}

func TestEnqueue_RejoinDuringPairingRejected(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	sessions := NewSessionService(DefaultSessionConfig(), nil, newRecordingMessenger(), logger)
	gate := &gatedStore{SessionStore: sessions, entered: make(chan struct{}), release: make(chan struct{})}
	config := NewConfigProviderService(nil, ConfigProviderOptions{}, logger)
	matcher := NewMatchService(gate, config, logger)
	ctx := context.Background()

	_, err := matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	require.NoError(t, err)

	paired := make(chan error, 1)
	go func() {
		_, err := matcher.Enqueue(ctx, entryFor("bob", "chain-a"))
		paired <- err
	}()
	<-gate.entered

	// Both ids are off the queue but the session does not exist yet; a
	// re-join in this window must still be rejected.
	_, err = matcher.Enqueue(ctx, entryFor("alice", "chain-a"))
	assert.ErrorIs(t, err, domain.ErrAlreadyQueued)
	_, err = matcher.Enqueue(ctx, entryFor("bob", "chain-a"))
	assert.ErrorIs(t, err, domain.ErrAlreadyQueued)

	close(gate.release)
	require.NoError(t, <-paired)

	_, inSession := sessions.SessionOf("alice")
	assert.True(t, inSession)
	assert.Equal(t, 0, matcher.Position("alice"))
}
