package domain

const (
	EventNameSessionExpired     = "session.expired"
	EventNameScoreRecorded      = "score.recorded"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionExpired struct {
	Session GameSession
}

func (EventSessionExpired) Name() string { return EventNameSessionExpired }

type EventScoreRecorded struct {
	Score ScoreRecord
}

func (EventScoreRecorded) Name() string { return EventNameScoreRecorded }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
