package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeright_sessions_started_total",
		Help: "Game sessions started.",
	})

	sessionsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeright_sessions_stopped_total",
		Help: "Game sessions stopped and scored.",
	})

	sessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeright_sessions_expired_total",
		Help: "Game sessions expired without a stop.",
	})

	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeright_session_sweeps_total",
		Help: "Expiry sweep passes completed.",
	})
)
