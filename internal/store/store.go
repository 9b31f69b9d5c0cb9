package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tuanvm/timeright/internal/domain"
	"github.com/tuanvm/timeright/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

// Store persists finalized game sessions and their score records, and serves
// the aggregate queries the leaderboard and analytics read from.
type Store struct {
	db *pgxpool.Pool
}

func New(c Config) *Store {
	return &Store{db: c.DB}
}

// SaveSessionAndScore records a stopped session together with its score in a
// single transaction. Both rows are durable or neither is.
func (s *Store) SaveSessionAndScore(ctx context.Context, ss domain.GameSession, sc domain.ScoreRecord) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insSessionStmt = `
INSERT INTO sessions (session_id, user_id, start_time, stop_time, status)
VALUES ($1, $2, $3, $4, $5);`
		insScoreStmt = `
INSERT INTO scores (session_id, user_id, elapsed_ms, deviation_ms, accuracy, create_time)
VALUES ($1, $2, $3, $4, $5, $6);`
	)

	_, err = tx.Exec(ctx, insSessionStmt, ss.SessionID, ss.UserID, ss.StartTime, ss.StopTime, ss.Status.String())
	if err != nil {
		return fmt.Errorf("insert session: %w", convertPgError(err))
	}

	_, err = tx.Exec(ctx, insScoreStmt, sc.SessionID, sc.UserID, sc.ElapsedMS, sc.DeviationMS, sc.Accuracy, sc.CreateTime)
	if err != nil {
		return fmt.Errorf("insert score: %w", convertPgError(err))
	}

	return tx.Commit(ctx)
}

// SaveSession records a finalized session that produced no score, i.e. an
// expired one.
func (s *Store) SaveSession(ctx context.Context, ss domain.GameSession) error {
	const stmt = `
INSERT INTO sessions (session_id, user_id, start_time, status)
VALUES ($1, $2, $3, $4);`

	_, err := s.db.Exec(ctx, stmt, ss.SessionID, ss.UserID, ss.StartTime, ss.Status.String())
	if err != nil {
		return fmt.Errorf("insert session: %w", convertPgError(err))
	}

	return nil
}

// ScoreRecords returns a user's score records in chronological order of
// session start.
func (s *Store) ScoreRecords(ctx context.Context, userID string) ([]domain.ScoreRecord, error) {
	const stmt = `
SELECT sc.session_id, sc.user_id, sc.elapsed_ms, sc.deviation_ms, sc.accuracy, sc.create_time
FROM scores sc
JOIN sessions ss ON ss.session_id = sc.session_id
WHERE sc.user_id = $1
ORDER BY ss.start_time ASC;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ScoreRecord, error) {
		var sc domain.ScoreRecord
		err := r.Scan(&sc.SessionID, &sc.UserID, &sc.ElapsedMS, &sc.DeviationMS, &sc.Accuracy, &sc.CreateTime)
		return sc, err
	})
}

// Sessions returns a user's most recently started sessions, expired ones
// included.
func (s *Store) Sessions(ctx context.Context, userID string, limit int) ([]domain.GameSession, error) {
	const stmt = `
SELECT session_id, user_id, start_time, COALESCE(stop_time, 'epoch'::timestamptz), status
FROM sessions
WHERE user_id = $1
ORDER BY start_time DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, userID, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.GameSession, error) {
		var (
			ss     domain.GameSession
			status string
		)
		if err := r.Scan(&ss.SessionID, &ss.UserID, &ss.StartTime, &ss.StopTime, &status); err != nil {
			return domain.GameSession{}, err
		}
		ss.Status = parseStatus(status)
		if ss.Status != domain.StatusStopped {
			ss.StopTime = time.Time{}
		}
		return ss, nil
	})
}

// UserStats aggregates one user's score records. A user with no recorded
// games gets CodeNotFound.
func (s *Store) UserStats(ctx context.Context, userID string) (domain.PlayerStats, error) {
	const stmt = `
SELECT user_id, COUNT(*), ROUND(AVG(deviation_ms), 2), MIN(deviation_ms), ROUND(AVG(accuracy), 2)
FROM scores
WHERE user_id = $1
GROUP BY user_id;`

	var st domain.PlayerStats
	err := s.db.QueryRow(ctx, stmt, userID).
		Scan(&st.UserID, &st.GamesPlayed, &st.AvgDeviationMS, &st.BestDeviationMS, &st.AvgAccuracy)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.PlayerStats{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no recorded games: user=%s", userID))
	}
	if err != nil {
		return domain.PlayerStats{}, err
	}

	return st, nil
}

// LeaderboardStats aggregates score records per user, unranked. Users with
// zero recorded games do not appear.
func (s *Store) LeaderboardStats(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	const stmt = `
SELECT sc.user_id, u.username, COUNT(*), ROUND(AVG(sc.deviation_ms), 2), MIN(sc.deviation_ms), ROUND(AVG(sc.accuracy), 2)
FROM scores sc
JOIN users u ON u.user_id = sc.user_id
GROUP BY sc.user_id, u.username;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.LeaderboardEntry, error) {
		var e domain.LeaderboardEntry
		err := r.Scan(&e.UserID, &e.Username, &e.GamesPlayed, &e.AvgDeviationMS, &e.BestDeviationMS, &e.AvgAccuracy)
		return e, err
	})
}

func parseStatus(s string) domain.SessionStatus {
	switch s {
	case "running":
		return domain.StatusRunning
	case "stopped":
		return domain.StatusStopped
	case "expired":
		return domain.StatusExpired
	}
	return domain.StatusCreated
}

func convertPgError(err error) error {
	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	return err
}
