package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tuanvm/timeright/internal/analytics"
	"github.com/tuanvm/timeright/internal/domain"
	"github.com/tuanvm/timeright/internal/errors"
	"github.com/tuanvm/timeright/internal/event"
	"github.com/tuanvm/timeright/internal/identity"
	"github.com/tuanvm/timeright/internal/leaderboard"
	"github.com/tuanvm/timeright/internal/score"
	"github.com/tuanvm/timeright/internal/session"
)

type Config struct {
	Router       *gin.Engine
	EventBus     *event.Bus
	Identity     *identity.Service
	Sessions     *session.Manager
	Scorer       *score.Engine
	Leaderboard  *leaderboard.Service
	Analytics    *analytics.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	ids *identity.Service
	sm  *session.Manager
	se  *score.Engine
	ls  *leaderboard.Service
	as  *analytics.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		ids:    c.Identity,
		sm:     c.Sessions,
		se:     c.Scorer,
		ls:     c.Leaderboard,
		as:     c.Analytics,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	r := c.Router
	r.POST("/api/auth/register", a.register)
	r.POST("/api/auth/login", a.login)
	r.GET("/api/leaderboard", a.getLeaderboard)

	auth := r.Group("/api", a.authenticate)
	auth.POST("/games/start", a.startGame)
	auth.POST("/games/:session_id/stop", a.stopGame)
	auth.GET("/games/active", a.activeGame)
	auth.GET("/games/history", a.gameHistory)
	auth.GET("/analytics/me", a.myStats)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

const userKey = "api.user"

func (a *API) authenticate(c *gin.Context) {
	h := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		abort(c, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("missing bearer token")))
		return
	}

	u, err := a.ids.Verify(c.Request.Context(), token)
	if err != nil {
		abort(c, err)
		return
	}

	c.Set(userKey, u)
	c.Next()
}

func currentUser(c *gin.Context) *domain.User {
	return c.MustGet(userKey).(*domain.User)
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

type (
	RegisterRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	UserResponse struct {
		UserID   string `json:"user_id"`
		Username string `json:"username"`
	}
)

func (a *API) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	u, err := a.ids.Register(c.Request.Context(), identity.RegisterRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, UserResponse{UserID: u.UserID, Username: u.Username})
}

type (
	LoginRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	LoginResponse struct {
		AccessToken string       `json:"access_token"`
		TokenType   string       `json:"token_type"`
		ExpireTime  time.Time    `json:"expire_time"`
		User        UserResponse `json:"user"`
	}
)

func (a *API) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	resp, err := a.ids.Login(c.Request.Context(), identity.LoginRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: resp.AccessToken,
		TokenType:   "bearer",
		ExpireTime:  resp.ExpireTime,
		User:        UserResponse{UserID: resp.User.UserID, Username: resp.User.Username},
	})
}

type StartGameResponse struct {
	SessionID    string    `json:"session_id"`
	StartTime    time.Time `json:"start_time"`
	TargetTimeMS int64     `json:"target_time_ms"`
}

func (a *API) startGame(c *gin.Context) {
	u := currentUser(c)

	ss, err := a.sm.Start(c.Request.Context(), u.UserID)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, StartGameResponse{
		SessionID:    ss.SessionID,
		StartTime:    ss.StartTime,
		TargetTimeMS: a.se.Target(),
	})
}

type StopGameResponse struct {
	SessionID    string          `json:"session_id"`
	ElapsedMS    int64           `json:"elapsed_ms"`
	DeviationMS  int64           `json:"deviation_ms"`
	Accuracy     decimal.Decimal `json:"accuracy"`
	TargetTimeMS int64           `json:"target_time_ms"`
}

func (a *API) stopGame(c *gin.Context) {
	u := currentUser(c)

	sc, err := a.sm.Stop(c.Request.Context(), c.Param("session_id"), u.UserID)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, StopGameResponse{
		SessionID:    sc.SessionID,
		ElapsedMS:    sc.ElapsedMS,
		DeviationMS:  sc.DeviationMS,
		Accuracy:     sc.Accuracy,
		TargetTimeMS: a.se.Target(),
	})
}

func (a *API) activeGame(c *gin.Context) {
	u := currentUser(c)

	ss, err := a.sm.Active(c.Request.Context(), u.UserID)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, StartGameResponse{
		SessionID:    ss.SessionID,
		StartTime:    ss.StartTime,
		TargetTimeMS: a.se.Target(),
	})
}

type GameResponse struct {
	SessionID string     `json:"session_id"`
	StartTime time.Time  `json:"start_time"`
	StopTime  *time.Time `json:"stop_time,omitempty"`
	Status    string     `json:"status"`
}

func (a *API) gameHistory(c *gin.Context) {
	u := currentUser(c)

	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		abort(c, err)
		return
	}

	games, err := a.as.RecentGames(c.Request.Context(), u.UserID, limit)
	if err != nil {
		abort(c, err)
		return
	}

	resp := make([]GameResponse, 0, len(games))
	for _, g := range games {
		gr := GameResponse{
			SessionID: g.SessionID,
			StartTime: g.StartTime,
			Status:    g.Status.String(),
		}
		if g.Status == domain.StatusStopped {
			t := g.StopTime
			gr.StopTime = &t
		}
		resp = append(resp, gr)
	}

	c.JSON(http.StatusOK, gin.H{"games": resp})
}

type (
	LeaderboardEntry struct {
		Rank            int             `json:"rank"`
		UserID          string          `json:"user_id"`
		Username        string          `json:"username"`
		GamesPlayed     int64           `json:"games_played"`
		AvgDeviationMS  decimal.Decimal `json:"avg_deviation_ms"`
		BestDeviationMS int64           `json:"best_deviation_ms"`
		AvgAccuracy     decimal.Decimal `json:"avg_accuracy"`
	}

	LeaderboardResponse struct {
		Leaderboard []LeaderboardEntry `json:"leaderboard"`
	}
)

func (a *API) getLeaderboard(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		abort(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		abort(c, err)
		return
	}

	l, err := a.ls.Rank(c.Request.Context(), leaderboard.RankRequest{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboardResponse(l.Entries))
}

type (
	ScoreResponse struct {
		SessionID   string          `json:"session_id"`
		ElapsedMS   int64           `json:"elapsed_ms"`
		DeviationMS int64           `json:"deviation_ms"`
		Accuracy    decimal.Decimal `json:"accuracy"`
		CreateTime  time.Time       `json:"create_time"`
	}

	StatsResponse struct {
		UserID          string          `json:"user_id"`
		GamesPlayed     int64           `json:"games_played"`
		AvgDeviationMS  decimal.Decimal `json:"avg_deviation_ms"`
		BestDeviationMS int64           `json:"best_deviation_ms"`
		AvgAccuracy     decimal.Decimal `json:"avg_accuracy"`
		History         []ScoreResponse `json:"history"`
	}
)

func (a *API) myStats(c *gin.Context) {
	u := currentUser(c)

	summary, err := a.as.Summarize(c.Request.Context(), analytics.SummarizeRequest{
		UserID: u.UserID,
	})
	if err != nil {
		abort(c, err)
		return
	}

	resp := StatsResponse{
		UserID:          summary.Stats.UserID,
		GamesPlayed:     summary.Stats.GamesPlayed,
		AvgDeviationMS:  summary.Stats.AvgDeviationMS,
		BestDeviationMS: summary.Stats.BestDeviationMS,
		AvgAccuracy:     summary.Stats.AvgAccuracy,
		History:         make([]ScoreResponse, 0, summary.Stats.GamesPlayed),
	}

	for sc, err := range summary.History {
		if err != nil {
			abort(c, err)
			return
		}
		resp.History = append(resp.History, ScoreResponse{
			SessionID:   sc.SessionID,
			ElapsedMS:   sc.ElapsedMS,
			DeviationMS: sc.DeviationMS,
			Accuracy:    sc.Accuracy,
			CreateTime:  sc.CreateTime,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func toLeaderboardResponse(entries []domain.LeaderboardEntry) LeaderboardResponse {
	resp := LeaderboardResponse{
		Leaderboard: make([]LeaderboardEntry, 0, len(entries)),
	}

	for _, e := range entries {
		resp.Leaderboard = append(resp.Leaderboard, LeaderboardEntry{
			Rank:            e.Rank,
			UserID:          e.UserID,
			Username:        e.Username,
			GamesPlayed:     e.GamesPlayed,
			AvgDeviationMS:  e.AvgDeviationMS,
			BestDeviationMS: e.BestDeviationMS,
			AvgAccuracy:     e.AvgAccuracy,
		})
	}

	return resp
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid %s: %q", name, v))
	}

	return n, nil
}
