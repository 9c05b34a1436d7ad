package services

import (
	"context"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/circuitbreaker"
	"pairlink/pkg/retry"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Adaptive bitrate policy constants, in kbps.
const (
	baselineBitrateKbps = 2500
	minBitrateKbps      = 500
	bandwidthHeadroom   = 0.8
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

// ConfigProviderService issues ICE provisioning with short-lived TURN
// credentials and computes adaptive bitrate / media-constraint policy from
// reported connectivity metrics.
type ConfigProviderService struct {
	stunURLs     []string
	staticTURN   []webrtc.ICEServer
	turnProvider ports.TURNCredentialProvider
	breaker      *circuitbreaker.Breaker
	retryCfg     retry.Config
	poolSize     int

	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cached   *domain.ConnectivityConfig
	cachedAt time.Time

	logger *zap.SugaredLogger
}

// ConfigProviderOptions tunes the provider. Zero values fall back to
// defaults.
type ConfigProviderOptions struct {
	STUNURLs   []string
	StaticTURN []webrtc.ICEServer
	PoolSize   int
	CacheTTL   time.Duration
}

func NewConfigProviderService(turnProvider ports.TURNCredentialProvider, opts ConfigProviderOptions, logger *zap.SugaredLogger) *ConfigProviderService {
	stun := opts.STUNURLs
	if len(stun) == 0 {
		stun = defaultSTUNServers
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = 2
	retryCfg.InitialDelay = 50 * time.Millisecond

	return &ConfigProviderService{
		stunURLs:     stun,
		staticTURN:   opts.StaticTURN,
		turnProvider: turnProvider,
		breaker:      circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retryCfg:     retryCfg,
		poolSize:     poolSize,
		cacheTTL:     cacheTTL,
		logger:       logger,
	}
}

// GenerateConnectivityConfig returns the ICE server list for a fresh session
// or ICE restart. A failing TURN credential issuer degrades the result to the
// public STUN set; it never fails the caller.
func (s *ConfigProviderService) GenerateConnectivityConfig(ctx context.Context) *domain.ConnectivityConfig {
	s.cacheMu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < s.cacheTTL {
		cfg := s.cached
		s.cacheMu.Unlock()
		return cfg
	}
	s.cacheMu.Unlock()

	servers := make([]webrtc.ICEServer, 0, len(s.stunURLs)/2+2)
	for i := 0; i < len(s.stunURLs); i += 2 {
		end := i + 2
		if end > len(s.stunURLs) {
			end = len(s.stunURLs)
		}
		servers = append(servers, webrtc.ICEServer{URLs: s.stunURLs[i:end]})
	}

	turn, err := s.fetchTURNServers(ctx)
	if err != nil {
		s.logger.Warnw("turn credential fetch failed, degrading to STUN-only",
			"error", err,
		)
	} else {
		servers = append(servers, turn...)
	}

	cfg := &domain.ConnectivityConfig{
		ICEServers:         servers,
		ICECandidatePool:   s.poolSize,
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}

	s.cacheMu.Lock()
	s.cached = cfg
	s.cachedAt = time.Now()
	s.cacheMu.Unlock()

	return cfg
}

func (s *ConfigProviderService) fetchTURNServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	if s.turnProvider == nil {
		return s.staticTURN, nil
	}

	servers, err := circuitbreaker.Do(ctx, s.breaker, func() ([]webrtc.ICEServer, error) {
		return retry.Do(ctx, s.retryCfg, func() ([]webrtc.ICEServer, error) {
			return s.turnProvider.FetchCredentials(ctx)
		})
	})
	if err != nil {
		// Static TURN descriptors still beat STUN-only when configured.
		if len(s.staticTURN) > 0 {
			return s.staticTURN, nil
		}
		return nil, err
	}

	return servers, nil
}

// ComputeOptimalBitrate derives a target bitrate from a metrics sample.
// Independent penalties for round-trip time, packet loss and jitter stack
// multiplicatively and are floored at the minimum usable bitrate; the cap at
// 80% of any measured bandwidth applies last and may undercut the floor,
// since exceeding the measured link is worse than a degraded picture.
func (s *ConfigProviderService) ComputeOptimalBitrate(metrics *domain.ConnectivityMetrics) int {
	bitrate := float64(baselineBitrateKbps)

	switch {
	case metrics.RoundTripTime > 300:
		bitrate *= 0.6
	case metrics.RoundTripTime > 150:
		bitrate *= 0.8
	}

	switch {
	case metrics.PacketsLost > 5:
		bitrate *= 0.5
	case metrics.PacketsLost > 2:
		bitrate *= 0.7
	}

	switch {
	case metrics.Jitter > 100:
		bitrate *= 0.7
	case metrics.Jitter > 50:
		bitrate *= 0.9
	}

	if bitrate < minBitrateKbps {
		bitrate = minBitrateKbps
	}

	if metrics.Bandwidth > 0 {
		ceiling := float64(metrics.Bandwidth) * bandwidthHeadroom
		if bitrate > ceiling {
			bitrate = ceiling
		}
	}

	return int(bitrate)
}

// MediaConstraintsFor returns the resolution/frame-rate preset for a quality
// tier. Video is omitted entirely in audio-only mode.
func (s *ConfigProviderService) MediaConstraintsFor(tier domain.ConnectionQuality, audioOnly bool) domain.MediaConstraints {
	constraints := domain.MediaConstraints{
		Audio: domain.AudioConstraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
	}

	if audioOnly {
		return constraints
	}

	switch tier {
	case domain.QualityLow:
		constraints.Video = &domain.VideoConstraints{Width: 320, Height: 240, FrameRate: 15, MaxBitrate: 500}
	case domain.QualityMedium:
		constraints.Video = &domain.VideoConstraints{Width: 640, Height: 480, FrameRate: 24, MaxBitrate: 1000}
	default:
		constraints.Video = &domain.VideoConstraints{Width: 1280, Height: 720, FrameRate: 30, MaxBitrate: baselineBitrateKbps}
	}

	return constraints
}
