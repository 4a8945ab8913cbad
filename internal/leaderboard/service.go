// Package leaderboard stores submitted final scores in redis and ranks
// them: score descending, ties broken by faster completion.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openquiz/escaperoom/internal/domain"
	"github.com/openquiz/escaperoom/internal/errors"
	"github.com/openquiz/escaperoom/internal/event"
	"github.com/openquiz/escaperoom/internal/session"
)

const (
	maxNameLen = 30
	// publishTop is how many entries ride along on a leaderboard.updated
	// event.
	publishTop   = 10
	defaultLimit = 10
)

type Config struct {
	EventBus *event.Bus
	Store    session.Store
	Redis    redis.UniversalClient
	Prefix   string
	// MaxScore is the best achievable score, used for rank tiers.
	MaxScore int
}

type Service struct {
	eb     *event.Bus
	store  session.Store
	redis  redis.UniversalClient
	prefix string
	max    int
}

func NewService(c Config) *Service {
	return &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
		max:    c.MaxScore,
	}
}

type SubmitRequest struct {
	SessionID  string
	PlayerName string
}

type SubmitResult struct {
	Entry domain.LeaderboardEntry
	// Position is the 1-based rank on the board.
	Position int64
}

// Submit records the final score of a completed session. A session can
// submit at most once; the score and completion time come from the
// session record, never from the client.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.SessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("missing session id"))
	}

	name, err := sanitizeName(req.PlayerName)
	if err != nil {
		return nil, err
	}

	ss, err := s.store.Get(req.SessionID)
	if err != nil {
		return nil, err
	}

	if !ss.IsCompleted {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("quiz not finished: session=%s", req.SessionID))
	}

	// Claim the one-shot flag under the store lock so a double submit
	// cannot both pass.
	duplicate := false
	if _, err := s.store.Update(req.SessionID, func(rec *domain.Session) {
		if rec.LeaderboardSubmitted {
			duplicate = true
			return
		}
		rec.LeaderboardSubmitted = true
	}); err != nil {
		return nil, err
	}
	if duplicate {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("score already submitted: session=%s", req.SessionID))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate entry ID: %w", err)
	}

	entry := domain.LeaderboardEntry{
		ID:            id.String(),
		SessionID:     ss.ID,
		PlayerName:    name,
		Score:         ss.Score,
		CompletedTime: ss.EndTime.Sub(ss.StartTime),
		Rank:          domain.TierForScore(ss.Score, s.max),
		SubmittedAt:   time.Now(),
	}

	pos, err := s.insertEntry(ctx, entry)
	if err != nil {
		// Give the session its shot back rather than burning the
		// one-shot flag on a redis hiccup.
		_, _ = s.store.Update(req.SessionID, func(rec *domain.Session) {
			rec.LeaderboardSubmitted = false
		})
		return nil, err
	}

	// The entry is on the board at this point; a failed refresh of the
	// pubsub snapshot must not fail the submission.
	if err := s.publishUpdated(ctx); err != nil {
		slog.ErrorContext(ctx, "leaderboard: refresh after submit failed", "error", err)
	}

	return &SubmitResult{Entry: entry, Position: pos}, nil
}

func (s *Service) insertEntry(ctx context.Context, e domain.LeaderboardEntry) (int64, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("marshal entry: %w", err)
	}

	if err := s.redis.ZAdd(ctx, s.boardKey(), redis.Z{
		Score:  rankScore(e.Score, e.CompletedTime),
		Member: e.SessionID,
	}).Err(); err != nil {
		return 0, fmt.Errorf("add to board: %w", err)
	}

	if err := s.redis.HSet(ctx, s.entriesKey(), e.SessionID, raw).Err(); err != nil {
		return 0, fmt.Errorf("store entry: %w", err)
	}

	rank, err := s.redis.ZRevRank(ctx, s.boardKey(), e.SessionID).Result()
	if err != nil {
		return 0, fmt.Errorf("rank entry: %w", err)
	}

	return rank + 1, nil
}

type ListRequest struct {
	Limit int
}

// List returns the top entries, best first. An empty board is a valid,
// empty leaderboard.
func (s *Service) List(ctx context.Context, req ListRequest) (*domain.Leaderboard, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	ids, err := s.redis.ZRevRange(ctx, s.boardKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list board: %w", err)
	}

	l := &domain.Leaderboard{Entries: make([]domain.LeaderboardEntry, 0, len(ids))}
	if len(ids) == 0 {
		return l, nil
	}

	raws, err := s.redis.HMGet(ctx, s.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}

		var e domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		l.Entries = append(l.Entries, e)
	}

	return l, nil
}

func (s *Service) publishUpdated(ctx context.Context) error {
	if s.eb == nil {
		return nil
	}

	l, err := s.List(ctx, ListRequest{Limit: publishTop})
	if err != nil {
		return fmt.Errorf("refresh board: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	return nil
}

// rankScore folds score and completion time into one sortable float:
// score dominates, and among equal scores a faster run sorts higher.
// Scores stay small integers and times cap below 10000s, so the folded
// value stays well inside float64's exact-integer range.
func rankScore(score int, completed time.Duration) float64 {
	secs := int64(completed / time.Second)
	if secs > 9999 {
		secs = 9999
	}
	if secs < 0 {
		secs = 0
	}

	return float64(int64(score)*10000 + (9999 - secs))
}

func sanitizeName(name string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '_', r == '.', r == '-':
			return r
		}
		return -1
	}, strings.TrimSpace(name))
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player name is empty"))
	}
	if len(cleaned) > maxNameLen {
		cleaned = cleaned[:maxNameLen]
	}

	return cleaned, nil
}

func (s *Service) boardKey() string {
	return fmt.Sprintf("%s:board", s.prefix)
}

func (s *Service) entriesKey() string {
	return fmt.Sprintf("%s:entries", s.prefix)
}
