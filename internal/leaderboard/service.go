package leaderboard

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tuanvm/timeright/internal/domain"
	"github.com/tuanvm/timeright/internal/errors"
	"github.com/tuanvm/timeright/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultCacheTTL = 5 * time.Second

	defaultLimit = 10
	maxLimit     = 100
)

// Store supplies the per-user aggregates the ranking is computed from.
type Store interface {
	LeaderboardStats(ctx context.Context) ([]domain.LeaderboardEntry, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	Redis    redis.UniversalClient
	Prefix   string
	// CacheTTL bounds how stale a served ranking may be. Defaults to 5s.
	CacheTTL time.Duration
}

// Service ranks users by average deviation from the target. The full ranking
// is recomputed from the store's aggregates and cached in Redis; new score
// records invalidate the cache and trigger a debounced leaderboard-updated
// event.
type Service struct {
	eb       *event.Bus
	store    Store
	redis    redis.UniversalClient
	prefix   string
	cacheTTL time.Duration
}

func NewService(c Config) *Service {
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}

	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		redis:    c.Redis,
		prefix:   c.Prefix,
		cacheTTL: c.CacheTTL,
	}

	s.eb.Subscribe(domain.EventNameScoreRecorded, func(ctx context.Context, e event.Event) error {
		return s.OnScoreRecorded(ctx, e.(domain.EventScoreRecorded))
	})

	return s
}

type RankRequest struct {
	Limit  int
	Offset int
}

// Rank returns one page of the leaderboard. Users with no recorded games are
// absent; the order is the same for identical underlying data.
func (s *Service) Rank(ctx context.Context, req RankRequest) (*domain.Leaderboard, error) {
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("limit %d exceeds maximum %d", req.Limit, maxLimit))
	}
	if req.Offset < 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("negative offset: %d", req.Offset))
	}

	full, err := s.ranked(ctx)
	if err != nil {
		return nil, err
	}

	if req.Offset >= len(full) {
		return &domain.Leaderboard{Entries: []domain.LeaderboardEntry{}}, nil
	}

	end := req.Offset + req.Limit
	if end > len(full) {
		end = len(full)
	}

	return &domain.Leaderboard{Entries: full[req.Offset:end]}, nil
}

// ranked serves the full ordering from the Redis cache, recomputing on miss.
func (s *Service) ranked(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	b, err := s.redis.Get(ctx, s.cacheKey()).Bytes()
	if err == nil {
		var entries []domain.LeaderboardEntry
		if err := json.Unmarshal(b, &entries); err == nil {
			return entries, nil
		}
	} else if !stderrors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get cached leaderboard: %w", err)
	}

	entries, err := s.recompute(ctx)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(entries); err == nil {
		if err := s.redis.Set(ctx, s.cacheKey(), b, s.cacheTTL).Err(); err != nil {
			return nil, fmt.Errorf("cache leaderboard: %w", err)
		}
	}

	return entries, nil
}

func (s *Service) recompute(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	entries, err := s.store.LeaderboardStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard stats: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if c := a.AvgDeviationMS.Cmp(b.AvgDeviationMS); c != 0 {
			return c < 0
		}
		// Consistency over a single lucky attempt: more games ranks higher.
		if a.GamesPlayed != b.GamesPlayed {
			return a.GamesPlayed > b.GamesPlayed
		}
		if a.BestDeviationMS != b.BestDeviationMS {
			return a.BestDeviationMS < b.BestDeviationMS
		}
		return a.UserID < b.UserID
	})

	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries, nil
}

// OnScoreRecorded invalidates the cached ranking and publishes the updated
// leaderboard, debounced so a burst of finished games produces one event.
func (s *Service) OnScoreRecorded(ctx context.Context, e domain.EventScoreRecorded) error {
	if err := s.redis.Del(ctx, s.cacheKey()).Err(); err != nil {
		return fmt.Errorf("invalidate leaderboard cache: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, s.timeKey(), e.Score.CreateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx)
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	entries, err := s.ranked(ctx)
	if err != nil {
		return fmt.Errorf("rank leaderboard: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{Entries: entries},
	})

	return nil
}

func (s *Service) cacheKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}

func (s *Service) timeKey() string {
	return fmt.Sprintf("%s:leaderboard:time", s.prefix)
}
