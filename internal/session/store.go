// Package session owns quiz session records and the answer state
// machine that mutates them.
package session

import (
	"context"
	stderrors "errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/openquiz/escaperoom/internal/domain"
	"github.com/openquiz/escaperoom/internal/errors"
	"github.com/openquiz/escaperoom/internal/event"
)

// Sentinel causes carried inside coded errors, so callers can tell
// apart the 403 flavors.
var (
	ErrNotFound  = stderrors.New("session not found")
	ErrCompleted = stderrors.New("session already completed")
	ErrExpired   = stderrors.New("session expired")
)

// Store is the session record owner. Implementations must serialize
// mutations per session id; Go gives no single-threaded event loop to
// lean on, so a concurrent double-submit must not interleave.
type Store interface {
	Create(ctx context.Context, id string) *domain.Session
	Get(id string) (*domain.Session, error)
	Update(id string, fn func(s *domain.Session)) (*domain.Session, error)
	IsExpired(id string) bool
	SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error)
	Expire(ctx context.Context, id string) (*domain.Session, error)
	Delete(id string) bool
	CleanupExpired(maxAge time.Duration) int
	Count() int
}

type SubmitAnswerRequest struct {
	SessionID     string
	QuestionID    string
	SelectedIndex int
	// ResolveCorrect returns the correct option index for the record's
	// current level. The store invokes it under its lock, so the
	// resolved index and the transition it decides see the same record
	// state even when submissions for one session race.
	ResolveCorrect func(s *domain.Session) int
}

type SubmitAnswerResult struct {
	IsCorrect bool
	Penalty   int
	Session   domain.Session
}

type Config struct {
	EventBus *event.Bus
	// InitialScore is the score a fresh session starts with.
	InitialScore int
	// WrongPenalty is deducted per wrong answer, floored at zero score.
	WrongPenalty int
	TimeLimit    time.Duration
	// TotalQuestions is the level past which a session completes.
	TotalQuestions int
	// NowFunc is swappable for tests; defaults to time.Now.
	NowFunc func() time.Time
}

// MemoryStore keeps all sessions in a process-local map. A single mutex
// guards the map and every record behind it, which serializes
// concurrent mutations for the same id.
type MemoryStore struct {
	c   Config
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*domain.Session
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(c Config) *MemoryStore {
	now := c.NowFunc
	if now == nil {
		now = time.Now
	}

	return &MemoryStore{
		c:        c,
		now:      now,
		sessions: make(map[string]*domain.Session),
	}
}

// Create initializes a fresh record for id, replacing any prior one.
func (m *MemoryStore) Create(ctx context.Context, id string) *domain.Session {
	s := &domain.Session{
		ID:               id,
		CurrentLevel:     1,
		Score:            m.c.InitialScore,
		StartTime:        m.now(),
		TimeLimit:        m.c.TimeLimit,
		QuestionMappings: make(map[int]domain.OptionMapping),
	}

	m.mu.Lock()
	m.sessions[id] = s
	snap := clone(s)
	m.mu.Unlock()

	m.publish(ctx, domain.EventSessionStarted{Session: snap})

	return &snap
}

// Get returns a copy of the record, or a not-found error.
func (m *MemoryStore) Get(id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound(id)
	}

	snap := clone(s)
	return &snap, nil
}

// Update applies fn to the record under the store lock and returns the
// resulting state. fn must not retain the *Session it is handed.
func (m *MemoryStore) Update(id string, fn func(s *domain.Session)) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound(id)
	}

	fn(s)
	snap := clone(s)
	return &snap, nil
}

// IsExpired reports whether the session's time limit has passed. A
// missing record counts as expired, not as ok.
func (m *MemoryStore) IsExpired(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return true
	}

	return s.ExpiredAt(m.now())
}

// SubmitAnswer runs one transition of the quiz state machine.
//
//	correct, next level in range  -> level += 1
//	correct, past the last level  -> completed, endTime set
//	incorrect                     -> score -= penalty (floor 0), level unchanged
//	already completed or locked   -> rejected, no state change
//	time limit exceeded           -> session locked, rejected
func (m *MemoryStore) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error) {
	m.mu.Lock()

	s, ok := m.sessions[req.SessionID]
	if !ok {
		m.mu.Unlock()
		return nil, notFound(req.SessionID)
	}

	if s.IsCompleted || s.IsLocked {
		m.mu.Unlock()
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("session already completed: id=%s", req.SessionID),
			errors.WithCause(ErrCompleted),
		)
	}

	now := m.now()
	if s.ExpiredAt(now) {
		terminate(s, now, true)
		snap := clone(s)
		m.mu.Unlock()

		m.publish(ctx, domain.EventSessionExpired{Session: snap})
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("session expired: id=%s", req.SessionID),
			errors.WithCause(ErrExpired),
		)
	}

	isCorrect := req.SelectedIndex == req.ResolveCorrect(s)

	penalty := 0
	if isCorrect {
		s.CorrectAnswers++
		s.CurrentLevel++
		if s.CurrentLevel > m.c.TotalQuestions {
			terminate(s, now, false)
		}
	} else {
		penalty = m.c.WrongPenalty
		s.WrongAttempts++
		s.Score -= penalty
		if s.Score < 0 {
			s.Score = 0
		}
	}

	rec := domain.AnswerRecord{
		QuestionID:    req.QuestionID,
		SelectedIndex: req.SelectedIndex,
		IsCorrect:     isCorrect,
		Penalty:       penalty,
		Timestamp:     now,
	}
	s.Answers = append(s.Answers, rec)

	snap := clone(s)
	m.mu.Unlock()

	m.publish(ctx, domain.EventAnswerSubmitted{SessionID: snap.ID, Answer: rec})
	if snap.IsCompleted {
		m.publish(ctx, domain.EventSessionCompleted{Session: snap})
	}

	return &SubmitAnswerResult{
		IsCorrect: isCorrect,
		Penalty:   penalty,
		Session:   snap,
	}, nil
}

// Expire locks a session that ran out of time. Idempotent on already
// terminal sessions.
func (m *MemoryStore) Expire(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()

	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, notFound(id)
	}

	already := s.IsCompleted || s.IsLocked
	if !already {
		terminate(s, m.now(), true)
	}
	snap := clone(s)
	m.mu.Unlock()

	if !already {
		m.publish(ctx, domain.EventSessionExpired{Session: snap})
	}

	return &snap, nil
}

// Delete removes the record, reporting whether it existed.
func (m *MemoryStore) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// CleanupExpired sweeps out records older than maxAge, regardless of
// state. This is a coarse janitor, not tied to the quiz time limit.
func (m *MemoryStore) CleanupExpired(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.StartTime) > maxAge {
			delete(m.sessions, id)
			removed++
		}
	}

	return removed
}

// Count returns the number of live records.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

func (m *MemoryStore) publish(ctx context.Context, e event.Event) {
	if m.c.EventBus == nil {
		return
	}

	m.c.EventBus.Publish(ctx, e)
}

func terminate(s *domain.Session, now time.Time, locked bool) {
	s.IsCompleted = true
	s.IsLocked = locked
	s.EndTime = now
}

func notFound(id string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithMessagef("session not found: id=%s", id),
		errors.WithCause(ErrNotFound),
	)
}

func clone(s *domain.Session) domain.Session {
	c := *s
	c.Answers = slices.Clone(s.Answers)
	c.QuestionMappings = maps.Clone(s.QuestionMappings)
	return c
}
