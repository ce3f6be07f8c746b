package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sentinelops/ueba-backend/internal/domain/errors"
	"github.com/sentinelops/ueba-backend/internal/domain/risk"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/telemetry"
)

// Key prefixes for risk score storage
const (
	riskCurrentPrefix = "ueba:risk:current:"
	riskHistoryPrefix = "ueba:risk:history:"
	riskEntitySetKey  = "ueba:risk:entities"
)

// RiskStore persists current risk scores and score history in Redis.
// Current scores live under per-entity string keys; history is a sorted
// set scored by the calculation timestamp so range queries and retention
// pruning are single commands.
type RiskStore struct {
	client    *redis.Client
	retention time.Duration
	logger    *zap.Logger
}

// NewRiskStore creates a Redis-backed risk score store. Entries older
// than the retention window are pruned from history on every save.
func NewRiskStore(client *redis.Client, retention time.Duration, logger *zap.Logger) (*RiskStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}

	return &RiskStore{
		client:    client,
		retention: retention,
		logger:    logger,
	}, nil
}

// Save replaces the entity's current score and appends a history point.
func (s *RiskStore) Save(ctx context.Context, score *risk.Score) error {
	ctx, span := telemetry.StartStorageSpan(ctx, "save_risk_score", "redis")
	defer span.End()

	if score == nil || score.EntityID == "" {
		return errors.NewValidationError("INVALID_SCORE", "score with entity ID is required")
	}

	data, err := json.Marshal(score)
	if err != nil {
		return errors.NewInternalError("failed to marshal risk score").WithCause(err)
	}

	entry := risk.HistoryEntry{
		Score:     score.Overall,
		Timestamp: score.LastCalculated,
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return errors.NewInternalError("failed to marshal history entry").WithCause(err)
	}

	historyKey := riskHistoryPrefix + score.EntityID
	cutoff := score.LastCalculated.Add(-s.retention)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, riskCurrentPrefix+score.EntityID, data, 0)
	pipe.SAdd(ctx, riskEntitySetKey, score.EntityID)
	pipe.ZAdd(ctx, historyKey, redis.Z{
		Score:  float64(score.LastCalculated.UnixNano()),
		Member: entryData,
	})
	pipe.ZRemRangeByScore(ctx, historyKey, "-inf", fmt.Sprintf("(%d", cutoff.UnixNano()))

	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.WithSpanError(span, err)
		s.logger.Error("failed to save risk score",
			zap.String("entity_id", score.EntityID),
			zap.Error(err))
		return errors.NewExternalError("redis", "failed to save risk score").WithCause(err)
	}

	return nil
}

// Current returns the entity's latest score, or (nil, nil) when the
// entity has never been scored.
func (s *RiskStore) Current(ctx context.Context, entityID string) (*risk.Score, error) {
	data, err := s.client.Get(ctx, riskCurrentPrefix+entityID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewExternalError("redis", "failed to get risk score").WithCause(err)
	}

	var score risk.Score
	if err := json.Unmarshal(data, &score); err != nil {
		s.logger.Error("corrupt risk score entry",
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, errors.NewInternalError("failed to unmarshal risk score").WithCause(err)
	}

	return &score, nil
}

// History returns the entity's score history at or after the given time,
// oldest first.
func (s *RiskStore) History(ctx context.Context, entityID string, since time.Time) ([]risk.HistoryEntry, error) {
	members, err := s.client.ZRangeByScore(ctx, riskHistoryPrefix+entityID, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, errors.NewExternalError("redis", "failed to get risk history").WithCause(err)
	}

	entries := make([]risk.HistoryEntry, 0, len(members))
	for _, m := range members {
		var entry risk.HistoryEntry
		if err := json.Unmarshal([]byte(m), &entry); err != nil {
			s.logger.Warn("skipping corrupt history entry",
				zap.String("entity_id", entityID),
				zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// AllCurrent returns the latest score for every known entity.
func (s *RiskStore) AllCurrent(ctx context.Context) ([]*risk.Score, error) {
	ids, err := s.client.SMembers(ctx, riskEntitySetKey).Result()
	if err != nil {
		return nil, errors.NewExternalError("redis", "failed to list scored entities").WithCause(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = riskCurrentPrefix + id
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.NewExternalError("redis", "failed to get risk scores").WithCause(err)
	}

	scores := make([]*risk.Score, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // entity key expired or missing
		}
		var score risk.Score
		if err := json.Unmarshal([]byte(raw), &score); err != nil {
			s.logger.Warn("skipping corrupt risk score entry",
				zap.String("entity_id", ids[i]),
				zap.Error(err))
			continue
		}
		scores = append(scores, &score)
	}

	return scores, nil
}
