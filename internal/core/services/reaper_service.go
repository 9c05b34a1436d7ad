package services

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/utils"

	"go.uber.org/zap"
)

// ReaperConfig bounds how long an idle or abandoned session may live between
// sweeps.
type ReaperConfig struct {
	SweepInterval       time.Duration
	InactivityThreshold time.Duration
}

func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		SweepInterval:       30 * time.Second,
		InactivityThreshold: 5 * time.Minute,
	}
}

// ReaperService periodically sweeps the session store and ends sessions that
// have gone inactive. It runs independently of per-message flow.
type ReaperService struct {
	cfg      ReaperConfig
	sessions ports.SessionStore
	logger   *zap.SugaredLogger
}

func NewReaperService(cfg ReaperConfig, sessions ports.SessionStore, logger *zap.SugaredLogger) *ReaperService {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultReaperConfig().SweepInterval
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = DefaultReaperConfig().InactivityThreshold
	}
	return &ReaperService{cfg: cfg, sessions: sessions, logger: logger}
}

// Start runs the sweep loop until the context is cancelled.
func (r *ReaperService) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep ends every session whose last activity is older than the inactivity
// threshold. The store delivers the session-ended notification itself.
func (r *ReaperService) Sweep(ctx context.Context) int {
	var stale []domain.SessionID
	r.sessions.ForEach(func(session *domain.Session) {
		if utils.Since(session.LastActivity) > r.cfg.InactivityThreshold {
			stale = append(stale, session.ID)
		}
	})

	reaped := 0
	for _, id := range stale {
		// Re-resolve before ending: the session may have seen traffic or
		// been destroyed since the scan.
		session, err := r.sessions.Get(id)
		if err != nil || utils.Since(session.LastActivity) <= r.cfg.InactivityThreshold {
			continue
		}
		if _, err := r.sessions.End(ctx, id, domain.ReasonInactivity); err != nil {
			continue
		}
		reaped++
	}

	if reaped > 0 {
		r.logger.Infow("reaper sweep ended inactive sessions",
			"reaped", reaped,
			"threshold", r.cfg.InactivityThreshold,
		)
	}
	return reaped
}
