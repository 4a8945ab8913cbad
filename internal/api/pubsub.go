package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openquiz/escaperoom/internal/domain"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		PlayerName    string `json:"playerName"`
		Score         int    `json:"score"`
		CompletedTime int64  `json:"completedTime"`
		Rank          string `json:"rank"`
	}
)

// PublishLeaderboardUpdated pushes the refreshed board to the
// notification channel so connected clients can re-render without
// polling.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	if a.redis == nil {
		return nil
	}

	l := e.Leaderboard

	data := Leaderboard{
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			PlayerName:    entry.PlayerName,
			Score:         entry.Score,
			CompletedTime: ms(entry.CompletedTime),
			Rank:          string(entry.Rank),
		})
	}

	n := Notification{
		Event: e.Name(),
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", e.Name(), err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:leaderboard", a.prefix), b).Err()
}
