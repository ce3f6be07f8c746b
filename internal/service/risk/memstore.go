package risk

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sentinelops/ueba-backend/internal/domain/errors"
	"github.com/sentinelops/ueba-backend/internal/domain/risk"
)

const memShardCount = 16

type memShard struct {
	mu      sync.RWMutex
	current map[string]*risk.Score
	history map[string][]risk.HistoryEntry
}

// MemoryStore is the in-process Store implementation. History per entity is
// pruned to the retention window on every save.
type MemoryStore struct {
	retention time.Duration
	shards    [memShardCount]*memShard
}

// NewMemoryStore creates an in-memory score store with the given history
// retention window.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	s := &MemoryStore{retention: retention}
	for i := range s.shards {
		s.shards[i] = &memShard{
			current: make(map[string]*risk.Score),
			history: make(map[string][]risk.HistoryEntry),
		}
	}
	return s
}

func (s *MemoryStore) shardFor(entityID string) *memShard {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return s.shards[h.Sum32()%memShardCount]
}

func (s *MemoryStore) Save(_ context.Context, score *risk.Score) error {
	if score == nil || score.EntityID == "" {
		return errors.NewValidationError("INVALID_SCORE", "score must have an entity ID")
	}

	sh := s.shardFor(score.EntityID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.current[score.EntityID] = score

	hist := append(sh.history[score.EntityID], risk.HistoryEntry{
		Score:     score.Overall,
		Timestamp: score.LastCalculated,
	})

	cutoff := clock.Now().Add(-s.retention)
	pruned := hist[:0]
	for _, h := range hist {
		if !h.Timestamp.Before(cutoff) {
			pruned = append(pruned, h)
		}
	}
	sh.history[score.EntityID] = pruned

	return nil
}

func (s *MemoryStore) Current(_ context.Context, entityID string) (*risk.Score, error) {
	sh := s.shardFor(entityID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.current[entityID], nil
}

func (s *MemoryStore) History(_ context.Context, entityID string, since time.Time) ([]risk.HistoryEntry, error) {
	sh := s.shardFor(entityID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	var out []risk.HistoryEntry
	for _, h := range sh.history[entityID] {
		if !h.Timestamp.Before(since) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) AllCurrent(_ context.Context) ([]*risk.Score, error) {
	var out []*risk.Score
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, score := range sh.current {
			out = append(out, score)
		}
		sh.mu.RUnlock()
	}
	return out, nil
}
