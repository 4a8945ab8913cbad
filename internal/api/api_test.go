package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquiz/escaperoom/internal/api"
	"github.com/openquiz/escaperoom/internal/catalog"
	"github.com/openquiz/escaperoom/internal/domain"
	"github.com/openquiz/escaperoom/internal/leaderboard"
	"github.com/openquiz/escaperoom/internal/quiz"
	"github.com/openquiz/escaperoom/internal/session"
)

const (
	initialScore = 1000
	timeLimit    = 25 * time.Minute
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine *gin.Engine
	store  *session.MemoryStore
	clock  *clock
}

func makeFixture(t *testing.T, opts ...func(*api.Config)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	qs := make([]domain.Question, 0, 3)
	for i := 1; i <= 3; i++ {
		qs = append(qs, domain.Question{
			ID: fmt.Sprintf("q%d", i), Level: i, Category: "net",
			Question: fmt.Sprintf("Question %d?", i),
			Options: []string{
				fmt.Sprintf("o%d-a", i), fmt.Sprintf("o%d-b", i),
				fmt.Sprintf("o%d-c", i), fmt.Sprintf("o%d-d", i),
			},
			CorrectAnswer: 0, Difficulty: "easy", Points: 100,
		})
	}
	cat, err := catalog.New(qs)
	require.NoError(t, err)

	ck := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := session.NewMemoryStore(session.Config{
		InitialScore:   initialScore,
		WrongPenalty:   50,
		TimeLimit:      timeLimit,
		TotalQuestions: cat.Total(),
		NowFunc:        ck.Now,
	})

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	require.NoError(t, rc.Ping(context.Background()).Err())

	engine := gin.New()
	c := api.Config{
		Engine: engine,
		Quiz: quiz.NewService(quiz.Config{
			Store:    store,
			Catalog:  cat,
			MaxScore: initialScore,
			NowFunc:  ck.Now,
		}),
		Leaderboard: leaderboard.NewService(leaderboard.Config{
			Store:    store,
			Redis:    rc,
			Prefix:   "test:leaderboard",
			MaxScore: initialScore,
		}),
	}
	for _, opt := range opts {
		opt(&c)
	}
	api.New(c)

	return &fixture{engine: engine, store: store, clock: ck}
}

func (f *fixture) do(t *testing.T, method, path, cookie string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: api.SessionCookieName, Value: cookie})
	}

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return w, resp
}

// correctIndex reads the shuffled correct index for the session's
// current level.
func (f *fixture) correctIndex(t *testing.T, id string) int {
	t.Helper()

	ss, err := f.store.Get(id)
	require.NoError(t, err)
	m, ok := ss.QuestionMappings[ss.CurrentLevel]
	require.True(t, ok)
	return m.CorrectIndex
}

func TestStart(t *testing.T) {
	f := makeFixture(t)

	w, resp := f.do(t, http.MethodPost, "/api/quiz/start", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.NotEmpty(t, resp["sessionId"])
	assert.EqualValues(t, timeLimit.Milliseconds(), resp["timeLimit"])
	assert.EqualValues(t, 3, resp["totalQuestions"])

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies, "a session cookie must be issued")
	assert.Equal(t, api.SessionCookieName, cookies[0].Name)
}

func TestStart_ReusesCookie(t *testing.T) {
	f := makeFixture(t)

	_, resp := f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)

	assert.Equal(t, "sess-1", resp["sessionId"])
}

func TestGetQuestion(t *testing.T) {
	t.Run("returns the sanitized current question", func(t *testing.T) {
		f := makeFixture(t)
		f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)

		w, resp := f.do(t, http.MethodGet, "/api/quiz/question", "sess-1", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		q := resp["question"].(map[string]any)
		assert.Equal(t, "q1", q["id"])
		assert.Len(t, q["options"], 4)
		_, leaked := q["correctAnswer"]
		assert.False(t, leaked, "the answer key must be stripped")
		assert.EqualValues(t, 1, resp["currentLevel"])
		assert.EqualValues(t, initialScore, resp["currentScore"])
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		f := makeFixture(t)

		w, resp := f.do(t, http.MethodGet, "/api/quiz/question", "ghost", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, false, resp["success"])
	})

	t.Run("expired session is locked with 403", func(t *testing.T) {
		f := makeFixture(t)
		f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)

		f.clock.Advance(timeLimit + time.Millisecond)
		w, resp := f.do(t, http.MethodGet, "/api/quiz/question", "sess-1", nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, false, resp["success"])
		assert.Equal(t, true, resp["isLocked"])

		// The session is now terminal; the next fetch returns the
		// locked payload instead of a question.
		w, resp = f.do(t, http.MethodGet, "/api/quiz/question", "sess-1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, resp["isLocked"])
		assert.Nil(t, resp["question"])
	})
}

func TestSubmitAnswer(t *testing.T) {
	t.Run("correct answer advances the quiz", func(t *testing.T) {
		f := makeFixture(t)
		f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)
		f.do(t, http.MethodGet, "/api/quiz/question", "sess-1", nil)

		w, resp := f.do(t, http.MethodPost, "/api/quiz/answer", "sess-1", gin.H{
			"questionId":     "q1",
			"selectedAnswer": f.correctIndex(t, "sess-1"),
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, resp["isCorrect"])
		assert.EqualValues(t, 2, resp["currentLevel"])
		assert.EqualValues(t, initialScore, resp["score"])
		assert.EqualValues(t, 0, resp["penalty"])
	})

	t.Run("wrong answer is penalized", func(t *testing.T) {
		f := makeFixture(t)
		f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)
		f.do(t, http.MethodGet, "/api/quiz/question", "sess-1", nil)

		wrong := (f.correctIndex(t, "sess-1") + 1) % 4
		_, resp := f.do(t, http.MethodPost, "/api/quiz/answer", "sess-1", gin.H{
			"questionId":     "q1",
			"selectedAnswer": wrong,
		})

		assert.Equal(t, false, resp["isCorrect"])
		assert.EqualValues(t, 1, resp["currentLevel"])
		assert.EqualValues(t, initialScore-50, resp["score"])
		assert.EqualValues(t, 50, resp["penalty"])
		assert.EqualValues(t, 1, resp["wrongAttempts"])
	})

	t.Run("missing fields are 400", func(t *testing.T) {
		f := makeFixture(t)
		f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)

		w, _ := f.do(t, http.MethodPost, "/api/quiz/answer", "sess-1", gin.H{
			"questionId": "q1",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w, _ = f.do(t, http.MethodPost, "/api/quiz/answer", "sess-1", gin.H{
			"selectedAnswer": 1,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("completed session is 403", func(t *testing.T) {
		f := makeFixture(t)
		f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)
		for i := 0; i < 3; i++ {
			f.do(t, http.MethodGet, "/api/quiz/question", "sess-1", nil)
			f.do(t, http.MethodPost, "/api/quiz/answer", "sess-1", gin.H{
				"questionId":     fmt.Sprintf("q%d", i+1),
				"selectedAnswer": f.correctIndex(t, "sess-1"),
			})
		}

		w, resp := f.do(t, http.MethodPost, "/api/quiz/answer", "sess-1", gin.H{
			"questionId":     "q3",
			"selectedAnswer": 0,
		})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, false, resp["success"])
	})
}

func TestStats(t *testing.T) {
	f := makeFixture(t)
	f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)

	f.clock.Advance(time.Minute)
	w, resp := f.do(t, http.MethodGet, "/api/quiz/stats", "sess-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	stats := resp["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["currentLevel"])
	assert.EqualValues(t, initialScore, stats["score"])
	assert.EqualValues(t, time.Minute.Milliseconds(), stats["elapsedTime"])
	assert.EqualValues(t, (timeLimit - time.Minute).Milliseconds(), stats["remainingTime"])
	assert.Equal(t, false, stats["isCompleted"])

	// The key is present as an explicit null while the run is live.
	endTime, ok := stats["endTime"]
	require.True(t, ok)
	assert.Nil(t, endTime)

	w, _ = f.do(t, http.MethodGet, "/api/quiz/stats", "ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReset(t *testing.T) {
	f := makeFixture(t)
	f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)
	f.do(t, http.MethodGet, "/api/quiz/question", "sess-1", nil)
	wrong := (f.correctIndex(t, "sess-1") + 1) % 4
	f.do(t, http.MethodPost, "/api/quiz/answer", "sess-1", gin.H{"questionId": "q1", "selectedAnswer": wrong})

	w, resp := f.do(t, http.MethodPost, "/api/quiz/reset", "sess-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess-1", resp["sessionId"])

	_, resp = f.do(t, http.MethodGet, "/api/quiz/stats", "sess-1", nil)
	stats := resp["stats"].(map[string]any)
	assert.EqualValues(t, initialScore, stats["score"])
	assert.EqualValues(t, 0, stats["wrongAttempts"])
}

func TestLeaderboard(t *testing.T) {
	f := makeFixture(t)

	// Finish a full run.
	f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)
	for i := 0; i < 3; i++ {
		f.do(t, http.MethodGet, "/api/quiz/question", "sess-1", nil)
		f.do(t, http.MethodPost, "/api/quiz/answer", "sess-1", gin.H{
			"questionId":     fmt.Sprintf("q%d", i+1),
			"selectedAnswer": f.correctIndex(t, "sess-1"),
		})
	}

	w, resp := f.do(t, http.MethodPost, "/api/leaderboard/submit", "sess-1", gin.H{"playerName": "neo"})
	assert.Equal(t, http.StatusOK, w.Code)
	entry := resp["entry"].(map[string]any)
	assert.Equal(t, "neo", entry["playerName"])
	assert.EqualValues(t, initialScore, entry["score"])
	assert.Equal(t, string(domain.RankGold), entry["rank"])
	assert.EqualValues(t, 1, resp["position"])

	w, _ = f.do(t, http.MethodPost, "/api/leaderboard/submit", "sess-1", gin.H{"playerName": "neo"})
	assert.Equal(t, http.StatusConflict, w.Code, "one submission per session")

	w, resp = f.do(t, http.MethodGet, "/api/leaderboard?limit=5", "sess-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	board := resp["leaderboard"].([]any)
	require.Len(t, board, 1)

	w, _ = f.do(t, http.MethodGet, "/api/leaderboard?limit=bogus", "sess-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBypass(t *testing.T) {
	t.Run("not routed unless configured", func(t *testing.T) {
		f := makeFixture(t)
		f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)

		req := httptest.NewRequest(http.MethodPost, "/api/quiz/bypass", bytes.NewBufferString(`{"phrase":"x"}`))
		w := httptest.NewRecorder()
		f.engine.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("completes the session with a perfect score", func(t *testing.T) {
		f := makeFixture(t, func(c *api.Config) {
			c.CheatPhrase = "open sesame"
		})
		f.do(t, http.MethodPost, "/api/quiz/start", "sess-1", nil)

		w, _ := f.do(t, http.MethodPost, "/api/quiz/bypass", "sess-1", gin.H{"phrase": "wrong"})
		assert.Equal(t, http.StatusForbidden, w.Code)

		w, resp := f.do(t, http.MethodPost, "/api/quiz/bypass", "sess-1", gin.H{"phrase": "open sesame"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, resp["isCompleted"])
		assert.EqualValues(t, initialScore, resp["score"])
	})
}
