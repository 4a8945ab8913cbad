// Package api exposes the quiz over HTTP+JSON. All durations in
// response bodies are milliseconds.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/openquiz/escaperoom/internal/domain"
	"github.com/openquiz/escaperoom/internal/errors"
	"github.com/openquiz/escaperoom/internal/event"
	"github.com/openquiz/escaperoom/internal/leaderboard"
	"github.com/openquiz/escaperoom/internal/quiz"
)

type Config struct {
	Engine      *gin.Engine
	EventBus    *event.Bus
	Quiz        *quiz.Service
	Leaderboard *leaderboard.Service

	Redis        Redis
	PubsubPrefix string

	// CheatPhrase enables the force-complete debug route when non-empty.
	// It must never be set in production configs.
	CheatPhrase string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qs *quiz.Service
	ls *leaderboard.Service

	redis  Redis
	prefix string

	cheatPhrase string
}

func New(c Config) *API {
	a := &API{
		qs:          c.Quiz,
		ls:          c.Leaderboard,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
		cheatPhrase: c.CheatPhrase,
	}

	g := c.Engine.Group("/api", SessionCookie())
	{
		g.POST("/quiz/start", a.startQuiz)
		g.GET("/quiz/question", a.currentQuestion)
		g.POST("/quiz/answer", a.submitAnswer)
		g.GET("/quiz/stats", a.stats)
		g.POST("/quiz/reset", a.resetQuiz)

		g.POST("/leaderboard/submit", a.submitScore)
		g.GET("/leaderboard", a.listLeaderboard)

		if a.cheatPhrase != "" {
			g.POST("/quiz/bypass", a.bypass)
		}
	}

	if c.EventBus != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

func (a *API) startQuiz(c *gin.Context) {
	res, err := a.qs.Start(c.Request.Context(), SessionID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"sessionId":      res.SessionID,
		"timeLimit":      ms(res.TimeLimit),
		"totalQuestions": res.TotalQuestions,
	})
}

func (a *API) currentQuestion(c *gin.Context) {
	res, err := a.qs.CurrentQuestion(c.Request.Context(), SessionID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	switch res.Status {
	case quiz.StatusLocked:
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"isLocked":   true,
			"finalScore": res.Score,
			"message":    "Session locked. Time ran out.",
		})

	case quiz.StatusCompleted:
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"isCompleted":    true,
			"currentLevel":   res.CurrentLevel,
			"correctAnswers": res.CorrectAnswers,
			"finalScore":     res.Score,
			"remainingTime":  ms(res.Remaining),
			"message":        "Quiz completed.",
		})

	default:
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"question":       res.Question,
			"currentLevel":   res.CurrentLevel,
			"totalQuestions": res.TotalQuestions,
			"currentScore":   res.Score,
			"correctAnswers": res.CorrectAnswers,
			"remainingTime":  ms(res.Remaining),
		})
	}
}

type submitAnswerBody struct {
	QuestionID     string `json:"questionId"`
	SelectedAnswer *int   `json:"selectedAnswer"`
}

func (a *API) submitAnswer(c *gin.Context) {
	var body submitAnswerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}
	if body.QuestionID == "" || body.SelectedAnswer == nil {
		respondError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("questionId and selectedAnswer are required")))
		return
	}

	res, err := a.qs.SubmitAnswer(c.Request.Context(), quiz.SubmitAnswerRequest{
		SessionID:     SessionID(c),
		QuestionID:    body.QuestionID,
		SelectedIndex: *body.SelectedAnswer,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"isCorrect":     res.IsCorrect,
		"currentLevel":  res.CurrentLevel,
		"score":         res.Score,
		"isCompleted":   res.IsCompleted,
		"penalty":       res.Penalty,
		"wrongAttempts": res.WrongAttempts,
		"remainingTime": ms(res.Remaining),
		"message":       res.Message,
	})
}

func (a *API) stats(c *gin.Context) {
	res, err := a.qs.Stats(c.Request.Context(), SessionID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	// endTime is an explicit null until the session finishes, so the
	// payload keeps a stable shape for clients.
	var endTime any
	if !res.EndTime.IsZero() {
		endTime = res.EndTime.UnixMilli()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"currentLevel":   res.CurrentLevel,
			"score":          res.Score,
			"correctAnswers": res.CorrectAnswers,
			"wrongAttempts":  res.WrongAttempts,
			"totalQuestions": res.TotalQuestions,
			"isCompleted":    res.IsCompleted,
			"isLocked":       res.IsLocked,
			"elapsedTime":    ms(res.Elapsed),
			"remainingTime":  ms(res.Remaining),
			"startTime":      res.StartTime.UnixMilli(),
			"endTime":        endTime,
		},
	})
}

func (a *API) resetQuiz(c *gin.Context) {
	res, err := a.qs.Reset(c.Request.Context(), SessionID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": res.SessionID,
	})
}

type bypassBody struct {
	Phrase string `json:"phrase"`
}

func (a *API) bypass(c *gin.Context) {
	var body bypassBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Phrase != a.cheatPhrase {
		respondError(c, errors.New(errors.CodePermissionDenied, errors.WithMessagef("nice try")))
		return
	}

	res, err := a.qs.ForceComplete(c.Request.Context(), SessionID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"isCompleted": res.IsCompleted,
		"score":       res.Score,
		"message":     "Mainframe override accepted.",
	})
}

type submitScoreBody struct {
	PlayerName string `json:"playerName"`
}

func (a *API) submitScore(c *gin.Context) {
	var body submitScoreBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body"), errors.WithCause(err)))
		return
	}

	res, err := a.ls.Submit(c.Request.Context(), leaderboard.SubmitRequest{
		SessionID:  SessionID(c),
		PlayerName: body.PlayerName,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"entry":    entryJSON(res.Entry),
		"position": res.Position,
	})
}

func (a *API) listLeaderboard(c *gin.Context) {
	limit := 0
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			respondError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid limit: %s", q)))
			return
		}
		limit = n
	}

	l, err := a.ls.List(c.Request.Context(), leaderboard.ListRequest{Limit: limit})
	if err != nil {
		respondError(c, err)
		return
	}

	entries := make([]gin.H, 0, len(l.Entries))
	for _, e := range l.Entries {
		entries = append(entries, entryJSON(e))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"leaderboard": entries,
	})
}

func entryJSON(e domain.LeaderboardEntry) gin.H {
	return gin.H{
		"id":            e.ID,
		"playerName":    e.PlayerName,
		"score":         e.Score,
		"completedTime": ms(e.CompletedTime),
		"rank":          e.Rank,
		"submittedAt":   e.SubmittedAt.UnixMilli(),
	}
}

func respondError(c *gin.Context, err error) {
	e := errors.Convert(err)

	body := gin.H{
		"success": false,
		"message": e.Message,
	}
	if quiz.IsExpiredErr(err) {
		body["isLocked"] = true
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), body)
}

func ms(d time.Duration) int64 {
	return d.Milliseconds()
}
