package signal

import (
	"encoding/json"
	"fmt"

	"pairlink/internal/core/domain"
)

// MessageType enumerates the closed set of signaling message types. Anything
// outside this set is rejected at the boundary before dispatch.
type MessageType string

// Inbound message types.
const (
	TypeJoinQueue            MessageType = "join-queue"
	TypeLeaveQueue           MessageType = "leave-queue"
	TypeOffer                MessageType = "offer"
	TypeAnswer               MessageType = "answer"
	TypeICECandidate         MessageType = "ice-candidate"
	TypeICERestart           MessageType = "ice-restart"
	TypeConnectionState      MessageType = "connection-state"
	TypeMediaConstraints     MessageType = "media-constraints"
	TypeEndSession           MessageType = "end-session"
	TypeScreenShareStart     MessageType = "screen-share-start"
	TypeScreenShareStop      MessageType = "screen-share-stop"
	TypeScreenShareOffer     MessageType = "screen-share-offer"
	TypeScreenShareAnswer    MessageType = "screen-share-answer"
	TypeRecordingRequest     MessageType = "recording-request"
	TypeRecordingConsent     MessageType = "recording-consent"
	TypeRecordingStart       MessageType = "recording-start"
	TypeRecordingStop        MessageType = "recording-stop"
	TypeAudioOnlyMode        MessageType = "audio-only-mode"
	TypeVirtualBackground    MessageType = "virtual-background"
	TypeNoiseSuppression     MessageType = "noise-suppression"
	TypeBitrateUpdate        MessageType = "bitrate-update"
	TypeMultiParticipantJoin  MessageType = "multi-participant-join"
	TypeMultiParticipantLeave MessageType = "multi-participant-leave"
	TypeVolumeControl        MessageType = "volume-control"
	TypeHeartbeat            MessageType = "heartbeat"
)

// Outbound message types.
const (
	TypeQueueJoined             MessageType = "queue-joined"
	TypeMatchFound              MessageType = "match-found"
	TypeSessionEnded            MessageType = "session-ended"
	TypePeerMediaUpdate         MessageType = "peer-media-update"
	TypeScreenShareStarted      MessageType = "screen-share-started"
	TypeScreenShareStopped      MessageType = "screen-share-stopped"
	TypeRecordingConsentRequest MessageType = "recording-consent-request"
	TypeRecordingConsentAnswer  MessageType = "recording-consent-response"
	TypeRecordingEnabled        MessageType = "recording-enabled"
	TypeRecordingStarted        MessageType = "recording-started"
	TypeRecordingStopped        MessageType = "recording-stopped"
	TypePeerAudioOnlyMode       MessageType = "peer-audio-only-mode"
	TypePeerVirtualBackground   MessageType = "peer-virtual-background"
	TypePeerNoiseSuppression    MessageType = "peer-noise-suppression"
	TypePeerBitrateUpdate       MessageType = "peer-bitrate-update"
	TypeParticipantJoined       MessageType = "participant-joined"
	TypeParticipantLeft         MessageType = "participant-left"
	TypeVolumeChanged           MessageType = "volume-changed"
	TypeHeartbeatAck            MessageType = "heartbeat-ack"
	TypeError                   MessageType = "error"
	TypePeerDisconnected        MessageType = "peer-disconnected"
)

// Envelope is the JSON frame every signaling message travels in.
type Envelope struct {
	Type      MessageType      `json:"type"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	UserID    domain.UserID    `json:"userId,omitempty"`
	PeerID    domain.UserID    `json:"peerId,omitempty"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp int64            `json:"timestamp,omitempty"`
}

// Typed payloads, decoded at the boundary before dispatch.

type JoinQueuePayload struct {
	ChainID     domain.ChainID     `json:"chainId"`
	Preferences domain.Preferences `json:"preferences"`
}

type ConnectionStatePayload struct {
	ConnectionState    string                      `json:"connectionState,omitempty"`
	ICEConnectionState string                      `json:"iceConnectionState,omitempty"`
	Metrics            *domain.ConnectivityMetrics `json:"metrics,omitempty"`
}

type EndSessionPayload struct {
	Reason string `json:"reason,omitempty"`
}

type ScreenSharePayload struct {
	ScreenType string `json:"screenType,omitempty"`
}

type RecordingConsentPayload struct {
	RecordingID domain.RecordingID `json:"recordingId,omitempty"`
	Consent     bool               `json:"consent"`
}

type TogglePayload struct {
	Enabled bool `json:"enabled"`
}

type BitrateUpdatePayload struct {
	Bitrate int `json:"bitrate"`
}

type MultiParticipantJoinPayload struct {
	Preferences domain.Preferences `json:"preferences"`
}

type VolumeControlPayload struct {
	Level float64 `json:"level"`
}

// relayTypes are forwarded verbatim to the addressed peer; their payloads are
// opaque to the router.
var relayTypes = map[MessageType]bool{
	TypeOffer:             true,
	TypeAnswer:            true,
	TypeICECandidate:      true,
	TypeScreenShareOffer:  true,
	TypeScreenShareAnswer: true,
}

var knownTypes = map[MessageType]bool{
	TypeJoinQueue: true, TypeLeaveQueue: true,
	TypeOffer: true, TypeAnswer: true, TypeICECandidate: true,
	TypeICERestart: true, TypeConnectionState: true,
	TypeMediaConstraints: true, TypeEndSession: true,
	TypeScreenShareStart: true, TypeScreenShareStop: true,
	TypeScreenShareOffer: true, TypeScreenShareAnswer: true,
	TypeRecordingRequest: true, TypeRecordingConsent: true,
	TypeRecordingStart: true, TypeRecordingStop: true,
	TypeAudioOnlyMode: true, TypeVirtualBackground: true,
	TypeNoiseSuppression: true, TypeBitrateUpdate: true,
	TypeMultiParticipantJoin: true, TypeMultiParticipantLeave: true,
	TypeVolumeControl: true, TypeHeartbeat: true,
}

// decode unmarshals the envelope data into dst, mapping parse failures to the
// malformed-message taxonomy.
func decode(env *Envelope, dst interface{}) error {
	if len(env.Data) == 0 {
		// Missing body decodes to zero values; required-field checks happen
		// in the handler.
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return errMalformed(fmt.Sprintf("malformed %s payload: %v", env.Type, err))
	}
	return nil
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
