package baseline

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinelops/ueba-backend/internal/domain/entity"
	"github.com/sentinelops/ueba-backend/internal/domain/errors"
	"github.com/sentinelops/ueba-backend/internal/domain/event"
	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
)

const shardCount = 16

// minTypicalShare is the fraction of the uniform hourly share an hour must
// carry to count as typical. Half the uniform share keeps sparse but regular
// activity in the typical set.
const minTypicalShare = 0.5

type shard struct {
	mu        sync.RWMutex
	baselines map[string]*Baseline
}

// Store builds and caches per-entity behavioral baselines.
type Store struct {
	cfg    config.AnalyticsConfig
	source EventSource
	logger *zap.Logger
	shards [shardCount]*shard
}

// NewStore creates a baseline store backed by the given event source.
func NewStore(cfg config.AnalyticsConfig, source EventSource, logger *zap.Logger) *Store {
	s := &Store{
		cfg:    cfg,
		source: source,
		logger: logger,
	}
	for i := range s.shards {
		s.shards[i] = &shard{baselines: make(map[string]*Baseline)}
	}
	return s
}

func (s *Store) shardFor(entityID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return s.shards[h.Sum32()%shardCount]
}

// GetOrCreate returns the cached baseline for the entity, building one from
// historical events when absent. Entities without an established baseline
// yield (nil, nil): detection downstream skips baseline-dependent checks.
func (s *Store) GetOrCreate(ctx context.Context, ent *entity.Entity) (*Baseline, error) {
	if ent == nil {
		return nil, errors.NewValidationError("INVALID_ENTITY", "entity cannot be nil")
	}
	if !ent.BaselineEstablished {
		return nil, nil
	}

	sh := s.shardFor(ent.ID)
	sh.mu.RLock()
	if b, ok := sh.baselines[ent.ID]; ok {
		sh.mu.RUnlock()
		return b, nil
	}
	sh.mu.RUnlock()

	return s.Rebuild(ctx, ent)
}

// Rebuild recomputes the entity's baseline from the training window and
// swaps the cache entry atomically.
func (s *Store) Rebuild(ctx context.Context, ent *entity.Entity) (*Baseline, error) {
	if ent == nil {
		return nil, errors.NewValidationError("INVALID_ENTITY", "entity cannot be nil")
	}

	end := clock.Now()
	start := end.AddDate(0, 0, -s.cfg.BaselineTrainingDays)

	events, err := s.source.CollectEntityEvents(ctx, ent.ID, start, end)
	if err != nil {
		return nil, errors.NewExternalError("event_source", "collecting training events").WithCause(err)
	}

	b := s.build(ent, events, start, end)

	sh := s.shardFor(ent.ID)
	sh.mu.Lock()
	sh.baselines[ent.ID] = b
	sh.mu.Unlock()

	s.logger.Debug("baseline rebuilt",
		zap.String("entity_id", ent.ID),
		zap.Int("event_count", b.EventCount),
		zap.Float64("confidence", b.Confidence))

	return b, nil
}

// Invalidate drops the cached baseline for the entity, if any.
func (s *Store) Invalidate(entityID string) {
	sh := s.shardFor(entityID)
	sh.mu.Lock()
	delete(sh.baselines, entityID)
	sh.mu.Unlock()
}

// Size returns the number of resident baselines across all shards.
func (s *Store) Size() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.baselines)
		sh.mu.RUnlock()
	}
	return total
}

func (s *Store) build(ent *entity.Entity, events []*event.Event, start, end time.Time) *Baseline {
	b := &Baseline{
		ID:          uuid.New(),
		EntityID:    ent.ID,
		EntityType:  ent.Type,
		PeriodStart: start,
		PeriodEnd:   end,
		EventCount:  len(events),
		CreatedAt:   clock.Now(),
	}

	if len(events) == 0 {
		return b
	}

	var hourCounts [24]int
	var dayCounts [7]int
	hourBuckets := make(map[int64]int)

	first, last := events[0].Timestamp, events[0].Timestamp
	for _, e := range events {
		hourCounts[e.Timestamp.Hour()]++
		dayCounts[(int(e.Timestamp.Weekday())+6)%7]++
		hourBuckets[e.Timestamp.Truncate(time.Hour).Unix()]++

		if e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}

	total := float64(len(events))
	for h, c := range hourCounts {
		b.HourlyFrequency[h] = float64(c) / total
		if b.HourlyFrequency[h] >= minTypicalShare/24 {
			b.TypicalHours = append(b.TypicalHours, h)
		}
	}
	for d, c := range dayCounts {
		if float64(c)/total >= minTypicalShare/7 {
			b.TypicalDays = append(b.TypicalDays, d)
		}
	}
	sort.Ints(b.TypicalHours)
	sort.Ints(b.TypicalDays)

	// Per-hour activity stats over the observed span, empty hours included.
	spanHours := int(last.Truncate(time.Hour).Sub(first.Truncate(time.Hour)).Hours()) + 1
	counts := make([]float64, 0, spanHours)
	for h := 0; h < spanHours; h++ {
		ts := first.Truncate(time.Hour).Add(time.Duration(h) * time.Hour).Unix()
		counts = append(counts, float64(hourBuckets[ts]))
	}
	b.AvgEventsPerHour = mean(counts)
	b.EventsStd = stddev(counts)

	// Confidence grows with observed coverage of the training window.
	observedDays := last.Sub(first).Hours() / 24
	b.Confidence = math.Min(observedDays/float64(s.cfg.BaselineTrainingDays), 1.0)

	return b
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
