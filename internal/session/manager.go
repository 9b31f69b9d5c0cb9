package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tuanvm/timeright/internal/domain"
	"github.com/tuanvm/timeright/internal/errors"
	"github.com/tuanvm/timeright/internal/event"
	"github.com/tuanvm/timeright/internal/score"
)

const (
	defaultMaxSessionAge = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// Store is the persistence collaborator for finalized sessions. Writes are
// durable once the call returns nil; SaveSessionAndScore persists both rows
// or neither.
type Store interface {
	SaveSessionAndScore(ctx context.Context, ss domain.GameSession, sc domain.ScoreRecord) error
	SaveSession(ctx context.Context, ss domain.GameSession) error
}

type Config struct {
	Clock    clockwork.Clock
	Store    Store
	EventBus *event.Bus
	Scorer   *score.Engine

	// MaxSessionAge bounds how long a session may stay running before the
	// sweep expires it. Defaults to 30 minutes.
	MaxSessionAge time.Duration
	// SweepInterval is the expiry sweep cadence. Defaults to 1 minute.
	SweepInterval time.Duration
}

// Manager owns the game session lifecycle: it creates running sessions,
// enforces the one-active-session-per-user invariant on an in-memory index,
// decides the single winner of concurrent stop/expire transitions, and hands
// finalized sessions to the store.
type Manager struct {
	clock  clockwork.Clock
	store  Store
	eb     *event.Bus
	scorer *score.Engine

	maxAge        time.Duration
	sweepInterval time.Duration

	// activeByUser holds the one running session per user. LoadOrStore on
	// start and CompareAndDelete on finalization keep the slot consistent
	// without a global lock.
	activeByUser sync.Map // user id -> *session
	// byID also retains finalized sessions until the sweep ages them out, so
	// a second stop reports an invalid transition instead of a missing
	// session.
	byID sync.Map // session id -> *session
}

func NewManager(c Config) *Manager {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.MaxSessionAge <= 0 {
		c.MaxSessionAge = defaultMaxSessionAge
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}

	return &Manager{
		clock:         c.Clock,
		store:         c.Store,
		eb:            c.EventBus,
		scorer:        c.Scorer,
		maxAge:        c.MaxSessionAge,
		sweepInterval: c.SweepInterval,
	}
}

// Start creates a new running session for the user. It fails with
// CodeAlreadyExists while the user has a session running. A running session
// past its expiry window does not block a new start: it is expired in place.
func (m *Manager) Start(ctx context.Context, userID string) (domain.GameSession, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("generate session ID: %w", err)
	}

	s := newSession(id.String(), userID, m.clock.Now())

	for {
		got, loaded := m.activeByUser.LoadOrStore(userID, s)
		if !loaded {
			break
		}

		cur := got.(*session)
		if m.clock.Now().Sub(cur.startAt) < m.maxAge {
			return domain.GameSession{}, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("active session exists: user=%s session=%s", userID, cur.id))
		}

		// The slot is held by a session the sweep has not reached yet.
		if err := m.expire(ctx, cur); err != nil && !errors.HasCode(err, errors.CodeFailedPrecondition) {
			return domain.GameSession{}, err
		}
	}

	m.byID.Store(s.id, s)
	sessionsStarted.Inc()

	return s.snapshot(), nil
}

// Stop finalizes a running session and returns its score record. It is not
// idempotent: the second stop on a session fails with CodeFailedPrecondition
// so double submissions surface as errors.
func (m *Manager) Stop(ctx context.Context, sessionID, userID string) (domain.ScoreRecord, error) {
	got, ok := m.byID.Load(sessionID)
	if !ok {
		return domain.ScoreRecord{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	s := got.(*session)

	if s.userID != userID {
		return domain.ScoreRecord{}, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("session %s does not belong to user %s", sessionID, userID))
	}

	now := m.clock.Now()

	if now.Sub(s.startAt) >= m.maxAge {
		// Past the expiry window; the stop loses to expiry even if the sweep
		// has not reached the session yet.
		if err := m.expire(ctx, s); err != nil && !errors.HasCode(err, errors.CodeFailedPrecondition) {
			return domain.ScoreRecord{}, err
		}
		return domain.ScoreRecord{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session expired: %s", sessionID))
	}

	if !s.claim(domain.StatusStopped) {
		return domain.ScoreRecord{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is not running: %s status=%s", sessionID, s.currentStatus()))
	}

	s.stopAt = now
	m.activeByUser.CompareAndDelete(userID, s)

	res, err := m.scorer.Score(now.Sub(s.startAt).Milliseconds())
	if err != nil {
		// Clock or bookkeeping defect, not user error.
		slog.ErrorContext(ctx, "session: scoring failed",
			"session", s.id,
			"user", userID,
			"error", err,
		)
		return domain.ScoreRecord{}, err
	}

	sc := domain.ScoreRecord{
		SessionID:   s.id,
		UserID:      s.userID,
		ElapsedMS:   res.ElapsedMS,
		DeviationMS: res.DeviationMS,
		Accuracy:    res.Accuracy,
		CreateTime:  now,
	}

	if err := m.store.SaveSessionAndScore(ctx, s.snapshot(), sc); err != nil {
		return domain.ScoreRecord{}, errors.Internal(fmt.Errorf("save session and score: %w", err))
	}

	sessionsStopped.Inc()
	m.eb.Publish(ctx, domain.EventScoreRecorded{Score: sc})

	return sc, nil
}

// Active returns the user's running session, or CodeNotFound if there is
// none. A session past its expiry window counts as none and is expired in
// place.
func (m *Manager) Active(ctx context.Context, userID string) (domain.GameSession, error) {
	got, ok := m.activeByUser.Load(userID)
	if !ok {
		return domain.GameSession{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active session: user=%s", userID))
	}
	s := got.(*session)

	if m.clock.Now().Sub(s.startAt) >= m.maxAge {
		if err := m.expire(ctx, s); err != nil && !errors.HasCode(err, errors.CodeFailedPrecondition) {
			return domain.GameSession{}, err
		}
		return domain.GameSession{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active session: user=%s", userID))
	}

	return s.snapshot(), nil
}

// expire finalizes a session without a score. The claim decides the race
// against a concurrent stop; the loser gets CodeFailedPrecondition.
func (m *Manager) expire(ctx context.Context, s *session) error {
	if !s.claim(domain.StatusExpired) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is not running: %s status=%s", s.id, s.currentStatus()))
	}

	m.activeByUser.CompareAndDelete(s.userID, s)

	if err := m.store.SaveSession(ctx, s.snapshot()); err != nil {
		return errors.Internal(fmt.Errorf("save expired session: %w", err))
	}

	sessionsExpired.Inc()
	m.eb.Publish(ctx, domain.EventSessionExpired{Session: s.snapshot()})

	return nil
}

// Run drives the expiry sweep until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	t := m.clock.NewTicker(m.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			m.Sweep(ctx)
		}
	}
}

// Sweep expires running sessions past the expiry window and ages finalized
// sessions out of the id index. A failure on one session is logged and does
// not stop the sweep.
func (m *Manager) Sweep(ctx context.Context) {
	now := m.clock.Now()

	m.byID.Range(func(_, v any) bool {
		s := v.(*session)
		if now.Sub(s.startAt) < m.maxAge {
			return true
		}

		if s.currentStatus().Terminal() {
			m.byID.Delete(s.id)
			return true
		}

		if err := m.expire(ctx, s); err != nil && !errors.HasCode(err, errors.CodeFailedPrecondition) {
			slog.ErrorContext(ctx, "session: sweep expire failed",
				"session", s.id,
				"user", s.userID,
				"error", err,
			)
		}
		return true
	})

	sweepRuns.Inc()
}
