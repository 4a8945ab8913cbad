package domain

import (
	"time"
)

// OptionsPerQuestion is the fixed number of answer options every catalog
// question carries.
const OptionsPerQuestion = 4

// Session holds all mutable state of one player's quiz attempt.
// It is owned exclusively by the session store; other packages read
// copies and mutate only through store operations.
type Session struct {
	ID             string
	CurrentLevel   int
	Score          int
	CorrectAnswers int
	WrongAttempts  int
	// Answers is the append-only audit trail. Records are never mutated
	// after append.
	Answers   []AnswerRecord
	StartTime time.Time
	// EndTime is the zero value until the session reaches a terminal
	// state (completed or expired).
	EndTime     time.Time
	IsCompleted bool
	IsLocked    bool
	TimeLimit   time.Duration
	// QuestionMappings records, per level, the option order the client
	// was shown and the shuffled index of the correct option. Once set
	// for a level it must not change for the life of the session.
	QuestionMappings map[int]OptionMapping
	// LeaderboardSubmitted flips to true on the first accepted
	// leaderboard submission for this session.
	LeaderboardSubmitted bool
}

// AnswerRecord is one entry of the per-session audit trail.
type AnswerRecord struct {
	QuestionID    string    `json:"questionId"`
	SelectedIndex int       `json:"selectedIndex"`
	IsCorrect     bool      `json:"isCorrect"`
	Penalty       int       `json:"penalty"`
	Timestamp     time.Time `json:"timestamp"`
}

// OptionMapping is the per-level shuffle record: the permuted option
// order and where the catalog's correct option landed in it.
type OptionMapping struct {
	ShuffledOptions []string
	CorrectIndex    int
}

// ElapsedAt returns how long the session had been running at t, capped
// at the terminal timestamp for finished sessions.
func (s *Session) ElapsedAt(t time.Time) time.Duration {
	if !s.EndTime.IsZero() {
		return s.EndTime.Sub(s.StartTime)
	}
	return t.Sub(s.StartTime)
}

// RemainingAt returns the time the session has left at t, floored at zero.
func (s *Session) RemainingAt(t time.Time) time.Duration {
	r := s.TimeLimit - s.ElapsedAt(t)
	if r < 0 {
		return 0
	}
	return r
}

// ExpiredAt reports whether the session's time limit had been exceeded
// at t. The boundary is strict: a session exactly at the limit is not
// yet expired.
func (s *Session) ExpiredAt(t time.Time) bool {
	return t.Sub(s.StartTime) > s.TimeLimit
}

// Question is one static catalog record. Read-only at runtime.
type Question struct {
	ID            string   `json:"id"`
	Level         int      `json:"level"`
	Category      string   `json:"category"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Difficulty    string   `json:"difficulty"`
	Points        int      `json:"points"`
}

// RankTier is the coarse medal bucket a finished run falls into.
type RankTier string

const (
	RankGold     RankTier = "GOLD"
	RankSilver   RankTier = "SILVER"
	RankBronze   RankTier = "BRONZE"
	RankComplete RankTier = "COMPLETE"
)

// TierForScore buckets a final score by its percentage of maxScore.
func TierForScore(score, maxScore int) RankTier {
	if maxScore <= 0 {
		return RankComplete
	}

	pct := score * 100 / maxScore
	switch {
	case pct >= 85:
		return RankGold
	case pct >= 70:
		return RankSilver
	case pct >= 50:
		return RankBronze
	default:
		return RankComplete
	}
}

// LeaderboardEntry is one submitted final score.
type LeaderboardEntry struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"-"`
	PlayerName    string        `json:"playerName"`
	Score         int           `json:"score"`
	CompletedTime time.Duration `json:"completedTime"`
	Rank          RankTier      `json:"rank"`
	SubmittedAt   time.Time     `json:"submittedAt"`
}

// Leaderboard is the ordered scoreboard: score descending, ties broken
// by completion time ascending.
type Leaderboard struct {
	Entries []LeaderboardEntry
}
