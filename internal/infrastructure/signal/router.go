package signal

import (
	"context"
	"errors"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/tracing"
	"pairlink/pkg/utils"

	"go.uber.org/zap"
)

// Stats is the slice of the metrics collector the router reports into.
type Stats interface {
	MessageReceived(msgType string)
	MatchMade(chainID string, waited time.Duration)
	ErrorSent(code string)
	ObserveReportedRTT(rtt time.Duration)
}

// Router dispatches inbound signaling messages by type: it either mutates
// session state through the session store or relays payloads to the
// addressed peer(s) looked up in the connection registry.
type Router struct {
	registry   *Registry
	messenger  *Messenger
	sessions   ports.SessionStore
	matchmaker ports.Matchmaker
	config     ports.ConfigProvider
	records    ports.SessionRecordRepository
	stats      Stats
	logger     *zap.SugaredLogger
}

func NewRouter(
	registry *Registry,
	messenger *Messenger,
	sessions ports.SessionStore,
	matchmaker ports.Matchmaker,
	config ports.ConfigProvider,
	records ports.SessionRecordRepository,
	stats Stats,
	logger *zap.SugaredLogger,
) *Router {
	return &Router{
		registry:   registry,
		messenger:  messenger,
		sessions:   sessions,
		matchmaker: matchmaker,
		config:     config,
		records:    records,
		stats:      stats,
		logger:     logger,
	}
}

// HandleMessage validates and dispatches one inbound envelope. Errors are
// reported to the sender as error envelopes; they never tear down the
// connection.
func (r *Router) HandleMessage(ctx context.Context, userID domain.UserID, env *Envelope) {
	if !knownTypes[env.Type] {
		r.sendError(userID, env.SessionID, "UNKNOWN_MESSAGE_TYPE", "unknown message type: "+string(env.Type))
		return
	}
	if r.stats != nil {
		r.stats.MessageReceived(string(env.Type))
	}

	ctx, span := tracing.TraceSignalMessage(ctx, string(env.Type), string(userID))
	defer span.End()

	var err error
	switch env.Type {
	case TypeJoinQueue:
		err = r.handleJoinQueue(ctx, userID, env)
	case TypeLeaveQueue:
		r.matchmaker.Leave(userID)
	case TypeICERestart:
		err = r.handleICERestart(ctx, userID, env.SessionID)
	case TypeConnectionState:
		err = r.handleConnectionState(ctx, userID, env)
	case TypeMediaConstraints:
		err = r.handleAdvisoryForward(ctx, userID, env, TypePeerMediaUpdate, nil)
	case TypeEndSession:
		err = r.handleEndSession(ctx, userID, env)
	case TypeScreenShareStart, TypeScreenShareStop:
		err = r.handleScreenShareToggle(ctx, userID, env)
	case TypeRecordingRequest:
		err = r.handleRecordingRequest(ctx, userID, env)
	case TypeRecordingConsent:
		err = r.handleRecordingConsent(ctx, userID, env)
	case TypeRecordingStart:
		err = r.handleRecordingStart(ctx, userID, env)
	case TypeRecordingStop:
		err = r.handleRecordingStop(ctx, userID, env)
	case TypeAudioOnlyMode:
		err = r.handleAudioOnlyMode(ctx, userID, env)
	case TypeVirtualBackground:
		err = r.handleAdvisoryForward(ctx, userID, env, TypePeerVirtualBackground, nil)
	case TypeNoiseSuppression:
		err = r.handleNoiseSuppression(ctx, userID, env)
	case TypeBitrateUpdate:
		err = r.handleAdvisoryForward(ctx, userID, env, TypePeerBitrateUpdate, new(BitrateUpdatePayload))
	case TypeMultiParticipantJoin:
		err = r.handleMultiParticipantJoin(ctx, userID, env)
	case TypeMultiParticipantLeave:
		err = r.handleMultiParticipantLeave(ctx, userID, env)
	case TypeVolumeControl:
		err = r.handleVolumeControl(ctx, userID, env)
	case TypeHeartbeat:
		err = r.handleHeartbeat(userID, env)
	default:
		// Negotiation relay: offer, answer, ice-candidate and the
		// screen-share variants are forwarded verbatim.
		if relayTypes[env.Type] {
			err = r.handleRelay(ctx, userID, env)
		}
	}

	if err != nil {
		tracing.RecordError(ctx, err)
		r.replyError(userID, env, err)
	}
}

// HandleConnect runs when a transport registers. A participant reappearing
// inside its session's grace window flips the session back to connected.
func (r *Router) HandleConnect(ctx context.Context, userID domain.UserID) {
	if sessionID, ok := r.sessions.MarkPeerReconnected(ctx, userID); ok {
		r.logger.Infow("transport reattached to live session",
			"user_id", userID,
			"session_id", sessionID,
		)
	}
}

// HandleDisconnect runs when a transport is lost: the participant leaves any
// queue and its session enters the reconnecting grace window.
func (r *Router) HandleDisconnect(ctx context.Context, userID domain.UserID) {
	r.matchmaker.Leave(userID)
	r.sessions.MarkPeerDisconnected(ctx, userID)
}

func (r *Router) handleJoinQueue(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload JoinQueuePayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	if payload.ChainID == "" {
		return errMalformed("chainId is required")
	}

	now := utils.Now()
	result, err := r.matchmaker.Enqueue(ctx, domain.QueueEntry{
		Participant: domain.Participant{ID: userID, Preferences: payload.Preferences, JoinedAt: now},
		ChainID:     payload.ChainID,
		EnqueuedAt:  now,
	})
	if err != nil {
		return err
	}

	if result == nil {
		return r.messenger.SendEvent(userID, string(TypeQueueJoined), map[string]interface{}{
			"chainId":  payload.ChainID,
			"position": r.matchmaker.Position(userID),
		})
	}

	if r.stats != nil {
		r.stats.MatchMade(string(payload.ChainID), result.Waited)
	}

	for recipient, brief := range result.Briefs {
		if err := r.messenger.SendEvent(recipient, string(TypeMatchFound), map[string]interface{}{
			"sessionId":       brief.SessionID,
			"peerId":          brief.PeerID,
			"isInitiator":     brief.IsInitiator,
			"peerPreferences": brief.PeerPreferences,
			"connectivity":    brief.Connectivity,
			"media":           brief.Media,
		}); err != nil {
			// The matched peer vanished between enqueue and briefing; run
			// the disconnect path so its side enters the grace window.
			r.sessions.MarkPeerDisconnected(ctx, recipient)
		}
	}
	return nil
}

// handleRelay forwards negotiation payloads verbatim to the addressed
// peer(s). An unreachable peer is a disconnection event, not a silent drop.
func (r *Router) handleRelay(ctx context.Context, userID domain.UserID, env *Envelope) error {
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	if err := r.touch(session.ID); err != nil {
		return err
	}

	recipients, err := r.targets(session, userID, env.PeerID)
	if err != nil {
		return err
	}

	forwarded := &Envelope{
		Type:      env.Type,
		SessionID: session.ID,
		UserID:    userID,
		Data:      env.Data,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, target := range recipients {
		transport, ok := r.registry.Get(target)
		if !ok {
			r.sessions.MarkPeerDisconnected(ctx, target)
			continue
		}
		if err := transport.SendJSON(forwarded); err != nil {
			r.sessions.MarkPeerDisconnected(ctx, target)
		}
	}
	return nil
}

func (r *Router) handleICERestart(ctx context.Context, userID domain.UserID, sessionID domain.SessionID) error {
	if sessionID == "" {
		var ok bool
		sessionID, ok = r.sessions.SessionOf(userID)
		if !ok {
			return domain.ErrSessionNotFound
		}
	}

	attempt, err := r.sessions.RegisterICERestart(ctx, sessionID)
	if errors.Is(err, domain.ErrReconnectLimitExceeded) {
		// RegisterICERestart already ended the session and delivered
		// session-ended with the reason; nothing more to push.
		r.logger.Infow("reconnect budget exhausted",
			"session_id", sessionID,
			"attempts", attempt,
		)
		return nil
	}
	if err != nil {
		return err
	}

	session, err := r.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	connectivity := r.config.GenerateConnectivityConfig(ctx)
	for _, participant := range session.ParticipantIDs() {
		if err := r.messenger.SendEvent(participant, string(TypeICERestart), map[string]interface{}{
			"sessionId":    sessionID,
			"connectivity": connectivity,
			"attempt":      attempt,
			"maxAttempts":  r.sessions.MaxReconnectAttempts(),
		}); err != nil {
			r.sessions.MarkPeerDisconnected(ctx, participant)
		}
	}
	return nil
}

func (r *Router) handleConnectionState(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload ConnectionStatePayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}

	if state, ok := parseConnectionState(payload.ConnectionState); ok {
		if err := r.sessions.Update(session.ID, func(s *domain.Session) error {
			s.State = state
			return nil
		}); err != nil {
			return err
		}
	} else if err := r.touch(session.ID); err != nil {
		return err
	}

	if payload.Metrics != nil {
		sample := *payload.Metrics
		sample.SessionID = session.ID
		sample.UserID = userID
		sample.ConnectionState = payload.ConnectionState
		sample.ICEConnectionState = payload.ICEConnectionState
		if sample.Timestamp.IsZero() {
			sample.Timestamp = utils.Now()
		}
		if r.stats != nil && sample.RoundTripTime > 0 {
			r.stats.ObserveReportedRTT(time.Duration(sample.RoundTripTime * float64(time.Millisecond)))
		}
		if r.records != nil {
			if err := r.records.AppendMetrics(ctx, &sample); err != nil {
				r.logger.Debugw("metrics sample persistence failed",
					"session_id", session.ID,
					"error", err,
				)
			}
		}
	}

	// A failed link triggers an ICE-restart cycle rather than an immediate
	// transition to disconnected.
	if payload.ConnectionState == "failed" || payload.ICEConnectionState == "failed" {
		return r.handleICERestart(ctx, userID, session.ID)
	}
	return nil
}

func (r *Router) handleEndSession(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload EndSessionPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	reason := payload.Reason
	if reason == "" {
		reason = domain.ReasonUserEnded
	}
	_, err = r.sessions.End(ctx, session.ID, reason)
	return err
}

func (r *Router) handleScreenShareToggle(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload ScreenSharePayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}

	sharing := env.Type == TypeScreenShareStart
	if err := r.sessions.Update(session.ID, func(s *domain.Session) error {
		participant, ok := s.Participants[userID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		participant.ScreenSharing = sharing
		return nil
	}); err != nil {
		return err
	}

	if r.records != nil {
		record := &domain.ScreenShareSession{
			SessionID:  session.ID,
			UserID:     userID,
			IsSharing:  sharing,
			ScreenType: payload.ScreenType,
			StartedAt:  utils.Now(),
		}
		if !sharing {
			record.EndedAt = utils.Now()
		}
		if err := r.records.SaveScreenShare(ctx, record); err != nil {
			r.logger.Debugw("screen share record persistence failed",
				"session_id", session.ID,
				"error", err,
			)
		}
	}

	event := TypeScreenShareStarted
	if !sharing {
		event = TypeScreenShareStopped
	}
	r.notifyPeers(ctx, session, userID, event, map[string]interface{}{
		"sessionId":  session.ID,
		"userId":     userID,
		"screenType": payload.ScreenType,
	})
	return nil
}

func (r *Router) handleRecordingRequest(ctx context.Context, userID domain.UserID, env *Envelope) error {
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	rec, peers, err := r.sessions.RequestRecording(ctx, session.ID, userID)
	if err != nil {
		return err
	}
	for _, peerID := range peers {
		if err := r.messenger.SendEvent(peerID, string(TypeRecordingConsentRequest), map[string]interface{}{
			"sessionId":   session.ID,
			"recordingId": rec.RecordingID,
			"requesterId": userID,
		}); err != nil {
			r.sessions.MarkPeerDisconnected(ctx, peerID)
		}
	}
	return nil
}

func (r *Router) handleRecordingConsent(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload RecordingConsentPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}

	rec, allConsented, err := r.sessions.RecordConsent(ctx, session.ID, userID, payload.Consent)
	if err != nil {
		return err
	}

	// Echo the decision to the requester.
	if err := r.messenger.SendEvent(rec.RequesterID, string(TypeRecordingConsentAnswer), map[string]interface{}{
		"sessionId":   session.ID,
		"recordingId": rec.RecordingID,
		"userId":      userID,
		"consented":   payload.Consent,
	}); err != nil {
		r.sessions.MarkPeerDisconnected(ctx, rec.RequesterID)
	}

	if allConsented {
		current, err := r.sessions.Get(session.ID)
		if err != nil {
			return err
		}
		for _, participant := range current.ParticipantIDs() {
			r.messenger.SendEvent(participant, string(TypeRecordingEnabled), map[string]interface{}{
				"sessionId":   session.ID,
				"recordingId": rec.RecordingID,
			})
		}
	}
	return nil
}

func (r *Router) handleRecordingStart(ctx context.Context, userID domain.UserID, env *Envelope) error {
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	rec, err := r.sessions.StartRecording(ctx, session.ID)
	if err != nil {
		return err
	}
	r.broadcast(ctx, session.ID, TypeRecordingStarted, map[string]interface{}{
		"sessionId":   session.ID,
		"recordingId": rec.RecordingID,
		"startedBy":   userID,
	})
	return nil
}

func (r *Router) handleRecordingStop(ctx context.Context, userID domain.UserID, env *Envelope) error {
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	rec, err := r.sessions.StopRecording(ctx, session.ID)
	if err != nil {
		return err
	}
	r.broadcast(ctx, session.ID, TypeRecordingStopped, map[string]interface{}{
		"sessionId":   session.ID,
		"recordingId": rec.RecordingID,
		"stoppedBy":   userID,
	})
	return nil
}

func (r *Router) handleAudioOnlyMode(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload TogglePayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	if err := r.sessions.Update(session.ID, func(s *domain.Session) error {
		participant, ok := s.Participants[userID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		participant.AudioOnlyMode = payload.Enabled
		return nil
	}); err != nil {
		return err
	}
	r.notifyPeers(ctx, session, userID, TypePeerAudioOnlyMode, map[string]interface{}{
		"sessionId": session.ID,
		"userId":    userID,
		"enabled":   payload.Enabled,
	})
	return nil
}

func (r *Router) handleNoiseSuppression(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload TogglePayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	if err := r.sessions.Update(session.ID, func(s *domain.Session) error {
		participant, ok := s.Participants[userID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		participant.NoiseSuppression = payload.Enabled
		return nil
	}); err != nil {
		return err
	}
	r.notifyPeers(ctx, session, userID, TypePeerNoiseSuppression, map[string]interface{}{
		"sessionId": session.ID,
		"userId":    userID,
		"enabled":   payload.Enabled,
	})
	return nil
}

// handleAdvisoryForward covers the purely advisory toggles whose payloads are
// forwarded as peer-* notifications without touching session flags. validate,
// when non-nil, forces the payload through its typed shape first.
func (r *Router) handleAdvisoryForward(ctx context.Context, userID domain.UserID, env *Envelope, outType MessageType, validate interface{}) error {
	if validate != nil {
		if err := decode(env, validate); err != nil {
			return err
		}
	}
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	if err := r.touch(session.ID); err != nil {
		return err
	}
	r.notifyPeers(ctx, session, userID, outType, map[string]interface{}{
		"sessionId": session.ID,
		"userId":    userID,
		"update":    env.Data,
	})
	return nil
}

func (r *Router) handleMultiParticipantJoin(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload MultiParticipantJoinPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	if env.SessionID == "" {
		return errMalformed("sessionId is required")
	}

	session, err := r.sessions.Join(ctx, env.SessionID, domain.Participant{
		ID:          userID,
		Preferences: payload.Preferences,
		JoinedAt:    utils.Now(),
	})
	if err != nil {
		return err
	}

	r.notifyPeers(ctx, session, userID, TypeParticipantJoined, map[string]interface{}{
		"sessionId":        session.ID,
		"userId":           userID,
		"participantCount": session.ParticipantCount,
	})

	// Brief the newcomer with a fresh connectivity config and the roster.
	connectivity := r.config.GenerateConnectivityConfig(ctx)
	return r.messenger.SendEvent(userID, string(TypeMatchFound), map[string]interface{}{
		"sessionId":    session.ID,
		"participants": session.PeersOf(userID),
		"connectivity": connectivity,
		"media":        r.config.MediaConstraintsFor(qualityOrDefault(payload.Preferences), payload.Preferences.AudioOnly),
	})
}

func (r *Router) handleMultiParticipantLeave(ctx context.Context, userID domain.UserID, env *Envelope) error {
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	remaining, err := r.sessions.Leave(ctx, session.ID, userID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		r.logger.Infow("session emptied",
			"session_id", session.ID,
			"reason", domain.ReasonAllParticipantsLeft,
		)
		return nil
	}

	current, err := r.sessions.Get(session.ID)
	if err != nil {
		return nil
	}
	for _, participant := range current.ParticipantIDs() {
		r.messenger.SendEvent(participant, string(TypeParticipantLeft), map[string]interface{}{
			"sessionId":        session.ID,
			"userId":           userID,
			"participantCount": remaining,
		})
	}
	return nil
}

func (r *Router) handleVolumeControl(ctx context.Context, userID domain.UserID, env *Envelope) error {
	var payload VolumeControlPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	session, err := r.resolveSession(userID, env)
	if err != nil {
		return err
	}
	// Advisory only: never mutates session lifecycle state. An explicit
	// peerId narrows delivery to that participant.
	recipients, err := r.targets(session, userID, env.PeerID)
	if err != nil {
		return err
	}
	for _, peerID := range recipients {
		if err := r.messenger.SendEvent(peerID, string(TypeVolumeChanged), map[string]interface{}{
			"sessionId": session.ID,
			"userId":    userID,
			"level":     payload.Level,
		}); err != nil {
			r.sessions.MarkPeerDisconnected(ctx, peerID)
		}
	}
	return nil
}

func (r *Router) handleHeartbeat(userID domain.UserID, env *Envelope) error {
	if env.SessionID != "" {
		// Liveness only; an unknown session id on a heartbeat is not worth
		// an error reply.
		r.touch(env.SessionID)
	}
	return r.messenger.SendEvent(userID, string(TypeHeartbeatAck), map[string]interface{}{
		"echoTimestamp": env.Timestamp,
		"serverTime":    time.Now().UnixMilli(),
	})
}

// resolveSession finds the session a message refers to, preferring the
// explicit envelope id and falling back to the sender's active session.
func (r *Router) resolveSession(userID domain.UserID, env *Envelope) (*domain.Session, error) {
	sessionID := env.SessionID
	if sessionID == "" {
		var ok bool
		sessionID, ok = r.sessions.SessionOf(userID)
		if !ok {
			return nil, domain.ErrSessionNotFound
		}
	}
	return r.sessions.Get(sessionID)
}

func (r *Router) touch(id domain.SessionID) error {
	return r.sessions.Update(id, func(*domain.Session) error { return nil })
}

// targets resolves the recipients of an addressed message. An explicit peer
// id must belong to the session; anyone connected is not anyone addressable.
func (r *Router) targets(session *domain.Session, sender, explicit domain.UserID) ([]domain.UserID, error) {
	if explicit != "" && explicit != sender {
		if _, ok := session.Participants[explicit]; !ok {
			return nil, domain.ErrParticipantNotFound
		}
		return []domain.UserID{explicit}, nil
	}
	return session.PeersOf(sender), nil
}

func (r *Router) notifyPeers(ctx context.Context, session *domain.Session, sender domain.UserID, event MessageType, data map[string]interface{}) {
	for _, peerID := range session.PeersOf(sender) {
		if err := r.messenger.SendEvent(peerID, string(event), data); err != nil {
			r.sessions.MarkPeerDisconnected(ctx, peerID)
		}
	}
}

func (r *Router) broadcast(ctx context.Context, id domain.SessionID, event MessageType, data map[string]interface{}) {
	session, err := r.sessions.Get(id)
	if err != nil {
		return
	}
	for _, participant := range session.ParticipantIDs() {
		if err := r.messenger.SendEvent(participant, string(event), data); err != nil {
			r.sessions.MarkPeerDisconnected(ctx, participant)
		}
	}
}

func parseConnectionState(raw string) (domain.ConnectionState, bool) {
	switch domain.ConnectionState(raw) {
	case domain.StateConnecting, domain.StateConnected, domain.StateReconnecting, domain.StateDisconnected:
		return domain.ConnectionState(raw), true
	}
	return "", false
}

func qualityOrDefault(prefs domain.Preferences) domain.ConnectionQuality {
	if prefs.ConnectionQuality == "" {
		return domain.QualityHigh
	}
	return prefs.ConnectionQuality
}
