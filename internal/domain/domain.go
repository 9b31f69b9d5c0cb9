package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TargetMS is the elapsed time, in milliseconds, players try to hit.
const TargetMS = 10000

type SessionStatus int32

const (
	StatusCreated SessionStatus = iota
	StatusRunning
	StatusStopped
	StatusExpired
)

func (s SessionStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusExpired:
		return "expired"
	}
	return "unknown"
}

// Terminal reports whether the status is a finalized state.
func (s SessionStatus) Terminal() bool {
	return s == StatusStopped || s == StatusExpired
}

// GameSession is one attempt at stopping the timer on the target.
// StopTime is set exactly when Status is StatusStopped.
type GameSession struct {
	SessionID string
	UserID    string
	StartTime time.Time
	StopTime  time.Time
	Status    SessionStatus
}

// ScoreRecord is the scored outcome of a stopped session.
// Exactly one exists per stopped session; expired sessions produce none.
type ScoreRecord struct {
	SessionID   string
	UserID      string
	ElapsedMS   int64
	DeviationMS int64
	Accuracy    decimal.Decimal
	CreateTime  time.Time
}

// PlayerStats aggregates a user's stopped sessions.
type PlayerStats struct {
	UserID          string
	GamesPlayed     int64
	AvgDeviationMS  decimal.Decimal
	BestDeviationMS int64
	AvgAccuracy     decimal.Decimal
}

// LeaderboardEntry is a ranked row in the leaderboard view. Rank starts at 1.
type LeaderboardEntry struct {
	Rank            int
	UserID          string
	Username        string
	GamesPlayed     int64
	AvgDeviationMS  decimal.Decimal
	BestDeviationMS int64
	AvgAccuracy     decimal.Decimal
}

// Leaderboard lists users ranked by average deviation ascending. The order
// is total: ties break on games played descending, then best deviation
// ascending, then user id ascending.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

// User is the identity collaborator's view of a player.
type User struct {
	UserID   string
	Username string
}
