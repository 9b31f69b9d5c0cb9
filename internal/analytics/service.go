package analytics

import (
	"context"
	"fmt"
	"iter"

	"github.com/tuanvm/timeright/internal/domain"
	"github.com/tuanvm/timeright/internal/errors"
)

// Store supplies one user's aggregates and history.
type Store interface {
	UserStats(ctx context.Context, userID string) (domain.PlayerStats, error)
	ScoreRecords(ctx context.Context, userID string) ([]domain.ScoreRecord, error)
	Sessions(ctx context.Context, userID string, limit int) ([]domain.GameSession, error)
}

type Config struct {
	Store Store
}

// Service projects per-user summaries from recorded scores. Purely
// descriptive: no ranking happens here.
type Service struct {
	store Store
}

func NewService(c Config) *Service {
	return &Service{store: c.Store}
}

type SummarizeRequest struct {
	UserID string
}

// Summary is a user's aggregate stats plus their chronological score
// history. History is restartable: every range re-reads the store.
type Summary struct {
	Stats   domain.PlayerStats
	History iter.Seq2[domain.ScoreRecord, error]
}

// Summarize returns the user's stats and history. A user with no recorded
// games gets zero-valued stats and an empty history, not an error.
func (s *Service) Summarize(ctx context.Context, req SummarizeRequest) (*Summary, error) {
	st, err := s.store.UserStats(ctx, req.UserID)
	if errors.HasCode(err, errors.CodeNotFound) {
		st = domain.PlayerStats{UserID: req.UserID}
	} else if err != nil {
		return nil, fmt.Errorf("load user stats: %w", err)
	}

	return &Summary{
		Stats:   st,
		History: s.History(ctx, req.UserID),
	}, nil
}

const defaultGamesLimit = 20

// RecentGames returns the user's most recently started sessions, expired
// ones included.
func (s *Service) RecentGames(ctx context.Context, userID string, limit int) ([]domain.GameSession, error) {
	if limit <= 0 {
		limit = defaultGamesLimit
	}

	games, err := s.store.Sessions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	return games, nil
}

// History returns the user's score records ordered by session start time
// ascending.
func (s *Service) History(ctx context.Context, userID string) iter.Seq2[domain.ScoreRecord, error] {
	return func(yield func(domain.ScoreRecord, error) bool) {
		records, err := s.store.ScoreRecords(ctx, userID)
		if err != nil {
			yield(domain.ScoreRecord{}, fmt.Errorf("load score records: %w", err))
			return
		}

		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}
