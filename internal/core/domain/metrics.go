package domain

import "time"

// ConnectivityMetrics is one reported sample of a participant's peer link.
// Feeds the adaptive bitrate computation; retained as a time series only for
// the session's lifetime.
type ConnectivityMetrics struct {
	SessionID          SessionID `json:"sessionId"`
	UserID             UserID    `json:"userId"`
	PeerID             UserID    `json:"peerId,omitempty"`
	ConnectionState    string    `json:"connectionState,omitempty"`
	ICEConnectionState string    `json:"iceConnectionState,omitempty"`
	BytesReceived      int64     `json:"bytesReceived,omitempty"`
	BytesSent          int64     `json:"bytesSent,omitempty"`
	PacketsLost        int       `json:"packetsLost,omitempty"`
	RoundTripTime      float64   `json:"roundTripTime,omitempty"` // ms
	Jitter             float64   `json:"jitter,omitempty"`          // ms
	Bandwidth          int       `json:"bandwidth,omitempty"`       // kbps estimate
	AudioLevel         float64   `json:"audioLevel,omitempty"`
	VideoFrameRate     int       `json:"videoFrameRate,omitempty"`
	VideoResolution    string    `json:"videoResolution,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}
