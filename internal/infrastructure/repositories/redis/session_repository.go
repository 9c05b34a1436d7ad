package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL       = 24 * time.Hour
	metricsTTL       = 1 * time.Hour
	recordingTTL     = 24 * time.Hour
	screenShareTTL   = 1 * time.Hour
	activeSessionSet = "pairlink:sessions:active"
)

// RedisSessionRepository persists session aggregates, connectivity-metrics
// time series and recording/screen-share sub-session records with bounded
// TTLs. All writes are best-effort from the caller's point of view.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionRepository(client *redis.Client) ports.SessionRecordRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: "pairlink:session:",
	}
}

func (r *RedisSessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisSessionRepository) metricsKey(id domain.SessionID) string {
	return fmt.Sprintf("pairlink:metrics:%s", id)
}

func (r *RedisSessionRepository) recordingKey(id domain.SessionID) string {
	return fmt.Sprintf("pairlink:recording:%s", id)
}

func (r *RedisSessionRepository) screenShareKey(id domain.SessionID, userID domain.UserID) string {
	return fmt.Sprintf("pairlink:screenshare:%s:%s", id, userID)
}

func (r *RedisSessionRepository) SaveSession(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := r.sessionKey(session.ID)
	if err := r.client.Set(ctx, key, data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	if err := r.client.SAdd(ctx, activeSessionSet, string(session.ID)).Err(); err != nil {
		return fmt.Errorf("failed to add session to active set: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) DeleteSession(ctx context.Context, id domain.SessionID) error {
	if err := r.client.SRem(ctx, activeSessionSet, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove session from active set: %w", err)
	}
	keys := []string{r.sessionKey(id), r.metricsKey(id), r.recordingKey(id)}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session keys from Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) ActiveSessionIDs(ctx context.Context) ([]domain.SessionID, error) {
	members, err := r.client.SMembers(ctx, activeSessionSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active session set: %w", err)
	}
	ids := make([]domain.SessionID, 0, len(members))
	for _, member := range members {
		ids = append(ids, domain.SessionID(member))
	}
	return ids, nil
}

// AppendMetrics appends one sample to the session's time series, scored by
// sample timestamp so range queries come back in order.
func (r *RedisSessionRepository) AppendMetrics(ctx context.Context, sample *domain.ConnectivityMetrics) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics sample: %w", err)
	}

	key := r.metricsKey(sample.SessionID)
	score := float64(sample.Timestamp.UnixMilli())
	if err := r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: data}).Err(); err != nil {
		return fmt.Errorf("failed to append metrics sample: %w", err)
	}
	return r.client.Expire(ctx, key, metricsTTL).Err()
}

func (r *RedisSessionRepository) MetricsRange(ctx context.Context, id domain.SessionID, from, to time.Time) ([]*domain.ConnectivityMetrics, error) {
	members, err := r.client.ZRangeByScore(ctx, r.metricsKey(id), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics range: %w", err)
	}

	samples := make([]*domain.ConnectivityMetrics, 0, len(members))
	for _, member := range members {
		var sample domain.ConnectivityMetrics
		if err := json.Unmarshal([]byte(member), &sample); err != nil {
			// Skip samples that no longer parse.
			continue
		}
		samples = append(samples, &sample)
	}
	return samples, nil
}

func (r *RedisSessionRepository) SaveRecording(ctx context.Context, rec *domain.RecordingSession) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recording record: %w", err)
	}
	if err := r.client.Set(ctx, r.recordingKey(rec.SessionID), data, recordingTTL).Err(); err != nil {
		return fmt.Errorf("failed to set recording record: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) SaveScreenShare(ctx context.Context, share *domain.ScreenShareSession) error {
	data, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("failed to marshal screen share record: %w", err)
	}
	key := r.screenShareKey(share.SessionID, share.UserID)
	if err := r.client.Set(ctx, key, data, screenShareTTL).Err(); err != nil {
		return fmt.Errorf("failed to set screen share record: %w", err)
	}
	return nil
}
