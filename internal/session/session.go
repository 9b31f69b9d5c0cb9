package session

import (
	"sync/atomic"
	"time"

	"github.com/tuanvm/timeright/internal/domain"
)

// session is one in-flight game, tracked in memory until a terminal
// transition hands it to the store. The status field is the single point of
// serialization for the Running → Stopped|Expired race: exactly one caller
// wins the claim, everyone else observes a terminal status.
type session struct {
	id      string
	userID  string
	startAt time.Time

	status atomic.Int32

	// stopAt is written only by the goroutine that won the claim to
	// StatusStopped, and read only by that goroutine afterwards.
	stopAt time.Time
}

func newSession(id, userID string, startAt time.Time) *session {
	s := &session{
		id:      id,
		userID:  userID,
		startAt: startAt,
	}
	s.status.Store(int32(domain.StatusRunning))
	return s
}

// claim attempts the Running → to transition. It returns false if the
// session already reached a terminal state.
func (s *session) claim(to domain.SessionStatus) bool {
	return s.status.CompareAndSwap(int32(domain.StatusRunning), int32(to))
}

func (s *session) currentStatus() domain.SessionStatus {
	return domain.SessionStatus(s.status.Load())
}

func (s *session) snapshot() domain.GameSession {
	st := s.currentStatus()

	ss := domain.GameSession{
		SessionID: s.id,
		UserID:    s.userID,
		StartTime: s.startAt,
		Status:    st,
	}
	if st == domain.StatusStopped {
		ss.StopTime = s.stopAt
	}

	return ss
}
