package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuanvm/timeright/internal/domain"
	"github.com/tuanvm/timeright/internal/errors"
	"github.com/tuanvm/timeright/internal/event"
	"github.com/tuanvm/timeright/internal/leaderboard"
)

func TestService_RankOrdering(t *testing.T) {
	tests := map[string]struct {
		stats     []domain.LeaderboardEntry
		wantUsers []string
	}{
		"primary key is mean deviation ascending": {
			stats: []domain.LeaderboardEntry{
				entry("u1", 3, "2500", 100),
				entry("u2", 1, "500", 500),
				entry("u3", 2, "1200", 300),
			},
			wantUsers: []string{"u2", "u3", "u1"},
		},

		"mean beats a single lucky best attempt": {
			// u1 played {0, 4000} -> mean 2000; u2 played {1000} -> mean 1000.
			stats: []domain.LeaderboardEntry{
				entry("u1", 2, "2000", 0),
				entry("u2", 1, "1000", 1000),
			},
			wantUsers: []string{"u2", "u1"},
		},

		"equal means rank more games first": {
			stats: []domain.LeaderboardEntry{
				entry("u1", 2, "1000", 800),
				entry("u2", 5, "1000", 900),
			},
			wantUsers: []string{"u2", "u1"},
		},

		"equal means and games rank lower best first": {
			stats: []domain.LeaderboardEntry{
				entry("u1", 3, "1000", 900),
				entry("u2", 3, "1000", 200),
			},
			wantUsers: []string{"u2", "u1"},
		},

		"full tie falls back to user id ascending": {
			stats: []domain.LeaderboardEntry{
				entry("u2", 3, "1000", 500),
				entry("u1", 3, "1000", 500),
			},
			wantUsers: []string{"u1", "u2"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := makeService(t, withStats(tt.stats))

			l, err := s.Rank(context.Background(), leaderboard.RankRequest{})
			require.NoError(t, err)

			users := make([]string, 0, len(l.Entries))
			for i, e := range l.Entries {
				users = append(users, e.UserID)
				assert.Equal(t, i+1, e.Rank)
			}
			assert.Equal(t, tt.wantUsers, users)
		})
	}
}

func TestService_RankPagination(t *testing.T) {
	s := makeService(t, withStats([]domain.LeaderboardEntry{
		entry("u1", 1, "100", 100),
		entry("u2", 1, "200", 200),
		entry("u3", 1, "300", 300),
		entry("u4", 1, "400", 400),
	}))

	ctx := context.Background()

	l, err := s.Rank(ctx, leaderboard.RankRequest{Limit: 2})
	require.NoError(t, err)
	require.Len(t, l.Entries, 2)
	assert.Equal(t, "u1", l.Entries[0].UserID)
	assert.Equal(t, 1, l.Entries[0].Rank)

	l, err = s.Rank(ctx, leaderboard.RankRequest{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, l.Entries, 2)
	assert.Equal(t, "u3", l.Entries[0].UserID)
	assert.Equal(t, 3, l.Entries[0].Rank)

	l, err = s.Rank(ctx, leaderboard.RankRequest{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, l.Entries)

	_, err = s.Rank(ctx, leaderboard.RankRequest{Limit: 1000})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument), "got %v", err)

	_, err = s.Rank(ctx, leaderboard.RankRequest{Offset: -1})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument), "got %v", err)
}

func TestService_RankServesFromCache(t *testing.T) {
	st := &fakeStore{stats: []domain.LeaderboardEntry{
		entry("u1", 1, "100", 100),
	}}
	s := makeService(t, withStore(st))

	ctx := context.Background()

	_, err := s.Rank(ctx, leaderboard.RankRequest{})
	require.NoError(t, err)
	_, err = s.Rank(ctx, leaderboard.RankRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, st.callCount(), "second call should hit the cache")

	// A new score record invalidates the cache.
	err = s.OnScoreRecorded(ctx, domain.EventScoreRecorded{
		Score: domain.ScoreRecord{UserID: "u1", CreateTime: time.Now()},
	})
	require.NoError(t, err)

	_, err = s.Rank(ctx, leaderboard.RankRequest{})
	require.NoError(t, err)
	assert.Greater(t, st.callCount(), 1, "rank after invalidation should recompute")
}

func TestService_PublishDebounce(t *testing.T) {
	tests := map[string]struct {
		scores    []domain.ScoreRecord
		wantCount int
	}{
		"one score publishes one update": {
			scores: []domain.ScoreRecord{
				{UserID: "u1", CreateTime: time.Now()},
			},
			wantCount: 1,
		},

		"a burst within the interval publishes once": {
			scores: []domain.ScoreRecord{
				{UserID: "u1", CreateTime: time.Now()},
				{UserID: "u2", CreateTime: time.Now()},
				{UserID: "u3", CreateTime: time.Now()},
			},
			wantCount: 1,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			eb := event.NewBus()

			var (
				mu        sync.Mutex
				published []domain.EventLeaderboardUpdated
			)
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				published = append(published, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
				withStats([]domain.LeaderboardEntry{entry("u1", 1, "100", 100)}),
			)

			for _, sc := range tt.scores {
				err := s.OnScoreRecorded(context.Background(), domain.EventScoreRecorded{Score: sc})
				require.NoError(t, err)
			}

			eb.Stop()

			mu.Lock()
			defer mu.Unlock()
			require.Len(t, published, tt.wantCount)
		})
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Store:    &fakeStore{},
		Redis:    rc,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}

func withStats(stats []domain.LeaderboardEntry) options {
	return func(c *leaderboard.Config) {
		c.Store = &fakeStore{stats: stats}
	}
}

func withStore(st *fakeStore) options {
	return func(c *leaderboard.Config) {
		c.Store = st
	}
}

type fakeStore struct {
	mu    sync.Mutex
	stats []domain.LeaderboardEntry
	calls int
}

func (f *fakeStore) LeaderboardStats(context.Context) ([]domain.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	return append([]domain.LeaderboardEntry(nil), f.stats...), nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func entry(user string, games int64, avg string, best int64) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		UserID:          user,
		Username:        user,
		GamesPlayed:     games,
		AvgDeviationMS:  decimal.RequireFromString(avg),
		BestDeviationMS: best,
	}
}
