package domain

import "time"

// ConnectionQuality is a participant's self-reported connectivity tier,
// used to pick media-constraint presets.
type ConnectionQuality string

const (
	QualityLow    ConnectionQuality = "low"
	QualityMedium ConnectionQuality = "medium"
	QualityHigh   ConnectionQuality = "high"
)

// Preferences are stated at queue-join time. They ride along to brief the
// matched peer; matching itself stays strict arrival order.
type Preferences struct {
	MaxWaitTime        time.Duration     `json:"maxWaitTime,omitempty"`
	ConnectionQuality  ConnectionQuality `json:"connectionQuality,omitempty"`
	RequireVideo       bool              `json:"requireVideo,omitempty"`
	AudioOnly          bool              `json:"audioOnly,omitempty"`
	AllowRecording     bool              `json:"allowRecording,omitempty"`
	AllowScreenSharing bool              `json:"allowScreenSharing,omitempty"`
	BackgroundBlur     bool              `json:"backgroundBlur,omitempty"`
	NoiseSuppression   bool              `json:"noiseSuppression,omitempty"`
	MaxParticipants    int               `json:"maxParticipants,omitempty"`
}

// Participant is an anonymous caller known only by identifier. Its transport
// handle lives in the connection registry, never here.
type Participant struct {
	ID          UserID
	Preferences Preferences
	JoinedAt    time.Time
}

// QueueEntry is one participant waiting in exactly one chain-scoped queue.
type QueueEntry struct {
	Participant Participant
	ChainID     ChainID
	EnqueuedAt  time.Time
}
