package domain

import (
	"github.com/pion/webrtc/v3"
)

// ConnectivityConfig is the ICE provisioning handed to participants at match
// time and on ICE restarts. Generated fresh each time; never persisted beyond
// a short-lived cache.
type ConnectivityConfig struct {
	ICEServers         []webrtc.ICEServer         `json:"iceServers"`
	ICECandidatePool   int                        `json:"iceCandidatePoolSize"`
	ICETransportPolicy webrtc.ICETransportPolicy  `json:"iceTransportPolicy"`
}

// MediaConstraints are the resolution/frame-rate presets briefed to a
// participant for its quality tier. Video is omitted entirely in audio-only
// mode.
type MediaConstraints struct {
	Audio AudioConstraints  `json:"audio"`
	Video *VideoConstraints `json:"video,omitempty"`
}

type AudioConstraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

type VideoConstraints struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frameRate"`
	MaxBitrate int `json:"maxBitrate"` // kbps
}
