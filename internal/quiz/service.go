// Package quiz orchestrates the catalog, the session store and the
// option shuffler into the player-facing quiz operations.
package quiz

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/openquiz/escaperoom/internal/catalog"
	"github.com/openquiz/escaperoom/internal/domain"
	"github.com/openquiz/escaperoom/internal/errors"
	"github.com/openquiz/escaperoom/internal/session"
	"github.com/openquiz/escaperoom/internal/shuffle"
)

type Config struct {
	Store   session.Store
	Catalog *catalog.Catalog
	// MaxScore is the starting (and best possible) score, used for the
	// perfect-score debug bypass.
	MaxScore int
	// NowFunc is swappable for tests; defaults to time.Now.
	NowFunc func() time.Time
}

type Service struct {
	store   session.Store
	catalog *catalog.Catalog
	max     int
	now     func() time.Time
}

func NewService(c Config) *Service {
	now := c.NowFunc
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:   c.Store,
		catalog: c.Catalog,
		max:     c.MaxScore,
		now:     now,
	}
}

type StartResult struct {
	SessionID      string
	TimeLimit      time.Duration
	TotalQuestions int
}

// Start creates a fresh session for id, replacing any prior attempt
// under the same id.
func (s *Service) Start(ctx context.Context, sessionID string) (*StartResult, error) {
	if sessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("missing session id"))
	}

	ss := s.store.Create(ctx, sessionID)

	return &StartResult{
		SessionID:      ss.ID,
		TimeLimit:      ss.TimeLimit,
		TotalQuestions: s.catalog.Total(),
	}, nil
}

// Status distinguishes the three shapes a question fetch can take.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusLocked    Status = "locked"
)

// SanitizedQuestion is a catalog question with the answer key stripped
// and the options in the session's shuffled order.
type SanitizedQuestion struct {
	ID         string   `json:"id"`
	Level      int      `json:"level"`
	Category   string   `json:"category"`
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Difficulty string   `json:"difficulty"`
	Points     int      `json:"points"`
}

type QuestionResult struct {
	Status         Status
	Question       *SanitizedQuestion
	CurrentLevel   int
	TotalQuestions int
	Score          int
	CorrectAnswers int
	Remaining      time.Duration
}

// CurrentQuestion returns the question at the session's current level.
// The option shuffle for a level is generated on the first fetch and
// reused afterwards, so re-fetching an unanswered question shows the
// same order the client already rendered.
func (s *Service) CurrentQuestion(ctx context.Context, sessionID string) (*QuestionResult, error) {
	if sessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("missing session id"))
	}

	ss, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if ss.IsLocked {
		return s.terminalResult(StatusLocked, ss), nil
	}
	if ss.IsCompleted {
		return s.terminalResult(StatusCompleted, ss), nil
	}

	if ss.ExpiredAt(s.now()) {
		if _, err := s.store.Expire(ctx, sessionID); err != nil {
			return nil, err
		}

		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("time is up, session locked"),
			errors.WithCause(session.ErrExpired),
		)
	}

	q, err := s.catalog.ByLevel(ss.CurrentLevel)
	if err != nil {
		// Validated catalogs cover every level up to Total; a miss here
		// is a data-integrity problem, not a client mistake.
		return nil, err
	}

	mapping, ok := ss.QuestionMappings[ss.CurrentLevel]
	if !ok {
		sh := shuffle.Options(q.Options, q.CorrectAnswer)
		mapping = domain.OptionMapping{
			ShuffledOptions: sh.Options,
			CorrectIndex:    sh.CorrectIndex,
		}

		level := ss.CurrentLevel
		ss, err = s.store.Update(sessionID, func(rec *domain.Session) {
			// A concurrent fetch may have won the race; the first
			// stored mapping stays authoritative.
			if existing, ok := rec.QuestionMappings[level]; ok {
				mapping = existing
				return
			}
			rec.QuestionMappings[level] = mapping
		})
		if err != nil {
			return nil, err
		}
	}

	return &QuestionResult{
		Status: StatusActive,
		Question: &SanitizedQuestion{
			ID:         q.ID,
			Level:      q.Level,
			Category:   q.Category,
			Question:   q.Question,
			Options:    mapping.ShuffledOptions,
			Difficulty: q.Difficulty,
			Points:     q.Points,
		},
		CurrentLevel:   ss.CurrentLevel,
		TotalQuestions: s.catalog.Total(),
		Score:          ss.Score,
		CorrectAnswers: ss.CorrectAnswers,
		Remaining:      ss.RemainingAt(s.now()),
	}, nil
}

func (s *Service) terminalResult(st Status, ss *domain.Session) *QuestionResult {
	return &QuestionResult{
		Status:         st,
		CurrentLevel:   ss.CurrentLevel,
		TotalQuestions: s.catalog.Total(),
		Score:          ss.Score,
		CorrectAnswers: ss.CorrectAnswers,
		Remaining:      ss.RemainingAt(s.now()),
	}
}

type SubmitAnswerRequest struct {
	SessionID     string
	QuestionID    string
	SelectedIndex int
}

type SubmitAnswerResult struct {
	IsCorrect     bool
	CurrentLevel  int
	Score         int
	IsCompleted   bool
	Penalty       int
	WrongAttempts int
	Remaining     time.Duration
	Message       string
}

const (
	msgCorrect   = "Access granted. Next layer unlocked."
	msgWrong     = "Access denied. Intrusion countermeasures triggered."
	msgCompleted = "All layers breached. You are out."
)

// SubmitAnswer validates a submission against the shuffled index the
// session recorded at fetch time and applies the state machine.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error) {
	if req.SessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("missing session id"))
	}
	if req.QuestionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("missing questionId"))
	}
	if req.SelectedIndex < 0 || req.SelectedIndex >= domain.OptionsPerQuestion {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("selectedAnswer out of range: %d", req.SelectedIndex))
	}

	if _, err := s.catalog.ByID(req.QuestionID); err != nil {
		return nil, err
	}

	// Correctness is resolved inside the store's critical section, so a
	// duplicate submission that races past a level advance is judged
	// against the level it actually lands on, not a stale snapshot.
	// The shuffled index recorded at fetch time is authoritative; the
	// catalog's raw index is a defensive fallback for a client that
	// skipped the fetch step.
	res, err := s.store.SubmitAnswer(ctx, session.SubmitAnswerRequest{
		SessionID:     req.SessionID,
		QuestionID:    req.QuestionID,
		SelectedIndex: req.SelectedIndex,
		ResolveCorrect: func(rec *domain.Session) int {
			if mapping, ok := rec.QuestionMappings[rec.CurrentLevel]; ok {
				return mapping.CorrectIndex
			}
			cur, err := s.catalog.ByLevel(rec.CurrentLevel)
			if err != nil {
				return -1
			}
			return cur.CorrectAnswer
		},
	})
	if err != nil {
		return nil, err
	}

	msg := msgWrong
	switch {
	case res.Session.IsCompleted:
		msg = msgCompleted
	case res.IsCorrect:
		msg = msgCorrect
	}

	return &SubmitAnswerResult{
		IsCorrect:     res.IsCorrect,
		CurrentLevel:  res.Session.CurrentLevel,
		Score:         res.Session.Score,
		IsCompleted:   res.Session.IsCompleted,
		Penalty:       res.Penalty,
		WrongAttempts: res.Session.WrongAttempts,
		Remaining:     res.Session.RemainingAt(s.now()),
		Message:       msg,
	}, nil
}

type Stats struct {
	CurrentLevel   int
	Score          int
	CorrectAnswers int
	WrongAttempts  int
	TotalQuestions int
	IsCompleted    bool
	IsLocked       bool
	Elapsed        time.Duration
	Remaining      time.Duration
	StartTime      time.Time
	EndTime        time.Time
}

// Stats is a pure read-through of the session's computed view.
func (s *Service) Stats(_ context.Context, sessionID string) (*Stats, error) {
	if sessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("missing session id"))
	}

	ss, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &Stats{
		CurrentLevel:   ss.CurrentLevel,
		Score:          ss.Score,
		CorrectAnswers: ss.CorrectAnswers,
		WrongAttempts:  ss.WrongAttempts,
		TotalQuestions: s.catalog.Total(),
		IsCompleted:    ss.IsCompleted,
		IsLocked:       ss.IsLocked,
		Elapsed:        ss.ElapsedAt(now),
		Remaining:      ss.RemainingAt(now),
		StartTime:      ss.StartTime,
		EndTime:        ss.EndTime,
	}, nil
}

// Reset deletes the session and starts a fresh one under the same id.
func (s *Service) Reset(ctx context.Context, sessionID string) (*StartResult, error) {
	if sessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("missing session id"))
	}

	s.store.Delete(sessionID)
	return s.Start(ctx, sessionID)
}

// ForceComplete finishes the session with a perfect score. Only the
// debug bypass route reaches this; it is not wired into normal play.
func (s *Service) ForceComplete(ctx context.Context, sessionID string) (*Stats, error) {
	if sessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("missing session id"))
	}

	total := s.catalog.Total()
	now := s.now()
	_, err := s.store.Update(sessionID, func(rec *domain.Session) {
		if rec.IsCompleted {
			return
		}
		rec.CurrentLevel = total + 1
		rec.Score = s.max
		rec.CorrectAnswers = total
		rec.IsCompleted = true
		rec.EndTime = now
	})
	if err != nil {
		return nil, err
	}

	return s.Stats(ctx, sessionID)
}

// IsExpiredErr reports whether err is the expired-session rejection, as
// opposed to the already-completed one.
func IsExpiredErr(err error) bool {
	return stderrors.Is(err, session.ErrExpired)
}
